// Package authz verifies bearer tokens presented to the control plane's
// HTTP surface, adapted from this codebase's JWKS-backed JWT verifier:
// keys are cached with a background refresh goroutine so request
// handling never blocks on a JWKS fetch.
package authz

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"

	"github.com/northbound-dev/mailindex/internal/logging"
)

// Caller identifies the principal a validated token belongs to.
type Caller struct {
	Subject string
	GroupID string
}

// Verifier validates bearer tokens against a JWKS endpoint.
type Verifier struct {
	jwksURL     string
	cache       *jwk.Cache
	keySet      jwk.Set
	keySetMutex sync.RWMutex
	refreshTTL  time.Duration
	log         *logrus.Logger
}

// NewVerifier builds a Verifier and performs an initial JWKS fetch.
func NewVerifier(jwksURL string) (*Verifier, error) {
	v := &Verifier{
		jwksURL:    jwksURL,
		refreshTTL: 5 * time.Minute,
		log:        logging.For(logging.API),
	}

	cache := jwk.NewCache(context.Background())
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(v.refreshTTL)); err != nil {
		return nil, fmt.Errorf("authz: register jwks url: %w", err)
	}
	v.cache = cache

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	keySet, err := v.fetchKeySet(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz: initial jwks fetch: %w", err)
	}
	v.keySet = keySet

	go v.backgroundRefresh()
	return v, nil
}

func (v *Verifier) fetchKeySet(ctx context.Context) (jwk.Set, error) {
	keySet, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return jwk.Fetch(ctx, v.jwksURL)
	}
	return keySet, nil
}

func (v *Verifier) backgroundRefresh() {
	ticker := time.NewTicker(v.refreshTTL)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		keySet, err := v.fetchKeySet(ctx)
		cancel()
		if err != nil {
			v.log.WithError(err).Warn("jwks refresh failed, keeping cached key set")
			continue
		}
		v.keySetMutex.Lock()
		v.keySet = keySet
		v.keySetMutex.Unlock()
	}
}

func (v *Verifier) getKeySet() jwk.Set {
	v.keySetMutex.RLock()
	defer v.keySetMutex.RUnlock()
	return v.keySet
}

// CallerFromRequest parses and validates the bearer token on r, and
// extracts the group this caller is scoped to from the "groupId" claim.
func (v *Verifier) CallerFromRequest(r *http.Request) (*Caller, error) {
	token, err := jwt.ParseRequest(r, jwt.WithKeySet(v.getKeySet()), jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("authz: parse token: %w", err)
	}

	subject := token.Subject()
	if subject == "" {
		return nil, fmt.Errorf("authz: token missing subject")
	}

	var groupID string
	if claim, ok := token.Get("groupId"); ok {
		groupID, _ = claim.(string)
	}

	return &Caller{Subject: subject, GroupID: groupID}, nil
}

package sip

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
	"golang.org/x/time/rate"
)

const (
	authRealm   = "netdevpbx"
	authOpaque  = "netdevpbx"
	authAlgoMD5 = "MD5"
	nonceExpiry = 5 * time.Minute

	// maxAuthFailures failed attempts from one IP block it until the
	// bucket refills at one attempt per authFailureRefill.
	maxAuthFailures   = 10
	authFailureRefill = time.Minute
)

// Authenticator checks digest credentials on INVITE against the single
// configured account.
type Authenticator struct {
	username string
	password string
	nonces   sync.Map // nonce -> issue time
	failures *SourceLimiter
	logger   *slog.Logger
}

// NewAuthenticator creates an authenticator for username/password.
func NewAuthenticator(username, password string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
		failures: NewSourceLimiter(rate.Every(authFailureRefill), maxAuthFailures),
		logger:   logger.With("subsystem", "auth"),
	}
}

// Challenge answers req with 401 Unauthorized and a fresh nonce.
func (a *Authenticator) Challenge(req *sip.Request, tx sip.ServerTransaction) {
	nonce := a.generateNonce()
	a.nonces.Store(nonce, time.Now())

	chal := digest.Challenge{
		Realm:     authRealm,
		Nonce:     nonce,
		Opaque:    authOpaque,
		Algorithm: authAlgoMD5,
	}

	res := sip.NewResponseFromRequest(req, 401, "Unauthorized", nil)
	res.AppendHeader(sip.NewHeader("WWW-Authenticate", chal.String()))
	if err := tx.Respond(res); err != nil {
		a.logger.Error("failed to send auth challenge", "error", err)
	}
}

// Authenticate reports whether req carries valid credentials. When it
// returns false a response (401, 403 or 400) has already been sent.
func (a *Authenticator) Authenticate(req *sip.Request, tx sip.ServerTransaction) bool {
	source := req.Source()

	if a.failures.Exhausted(source) {
		a.logger.Warn("sip auth rejected: too many failures", "source", source)
		respond(tx, req, 403, "Forbidden")
		return false
	}

	h := req.GetHeader("Authorization")
	if h == nil {
		a.Challenge(req, tx)
		return false
	}

	cred, err := digest.ParseCredentials(h.Value())
	if err != nil {
		a.logger.Warn("failed to parse authorization header", "error", err, "source", source)
		a.failures.Allow(source)
		respond(tx, req, 400, "Bad Request")
		return false
	}

	issued, ok := a.nonces.Load(cred.Nonce)
	if !ok {
		a.logger.Debug("unknown nonce, re-challenging", "username", cred.Username, "source", source)
		a.Challenge(req, tx)
		return false
	}
	if time.Since(issued.(time.Time)) > nonceExpiry {
		a.nonces.Delete(cred.Nonce)
		a.logger.Debug("expired nonce, re-challenging", "username", cred.Username, "source", source)
		a.Challenge(req, tx)
		return false
	}

	if cred.Username != a.username {
		a.logger.Warn("unknown sip username", "username", cred.Username, "source", source)
		a.failures.Allow(source)
		respond(tx, req, 403, "Forbidden")
		return false
	}

	chal := digest.Challenge{
		Realm:     authRealm,
		Nonce:     cred.Nonce,
		Opaque:    authOpaque,
		Algorithm: authAlgoMD5,
	}
	expected, err := digest.Digest(&chal, digest.Options{
		Method:   string(req.Method),
		URI:      cred.URI,
		Username: cred.Username,
		Password: a.password,
	})
	if err != nil {
		a.logger.Error("failed to compute digest", "username", cred.Username, "error", err)
		respond(tx, req, 500, "Internal Server Error")
		return false
	}

	if cred.Response != expected.Response {
		a.logger.Warn("digest auth failed", "username", cred.Username, "source", source)
		a.failures.Allow(source)
		a.Challenge(req, tx)
		return false
	}

	a.nonces.Delete(cred.Nonce)
	a.failures.Reset(source)
	a.logger.Debug("digest auth successful", "username", cred.Username)
	return true
}

// CleanExpired drops expired nonces and idle failure counters.
func (a *Authenticator) CleanExpired() {
	now := time.Now()
	a.nonces.Range(func(key, value any) bool {
		if now.Sub(value.(time.Time)) > nonceExpiry {
			a.nonces.Delete(key)
		}
		return true
	})
	a.failures.Cleanup(maxAuthFailures * authFailureRefill)
}

func (a *Authenticator) generateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

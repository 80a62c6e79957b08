package verify

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roma-frontend/fitauth/internal/audit"
	"github.com/roma-frontend/fitauth/internal/model"
)

const (
	// DefaultQRValidity is how long an issued QR payload is accepted.
	DefaultQRValidity = 5 * time.Minute
	// qrClockSkew tolerates issuers whose clock runs slightly ahead.
	qrClockSkew = 30 * time.Second
)

var errQRMalformed = errors.New("malformed qr payload")

type qrClaims struct {
	UserID   string `json:"uid"`
	IssuedAt int64  `json:"iat"`
	Nonce    string `json:"n"`
}

// QRCodec signs and parses self-contained QR login payloads of the form
// base64url(json) "." base64url(hmac-sha256).
type QRCodec struct {
	key []byte
}

func NewQRCodec(key []byte) *QRCodec {
	return &QRCodec{key: append([]byte(nil), key...)}
}

// Issue returns a payload for userID stamped with issuedAt.
func (q *QRCodec) Issue(userID string, issuedAt time.Time) (string, error) {
	nonce := make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	body, err := json.Marshal(qrClaims{
		UserID:   userID,
		IssuedAt: issuedAt.UnixMilli(),
		Nonce:    base64.RawURLEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", err
	}
	enc := base64.RawURLEncoding.EncodeToString(body)
	return enc + "." + base64.RawURLEncoding.EncodeToString(q.sign(enc)), nil
}

func (q *QRCodec) sign(enc string) []byte {
	mac := hmac.New(sha256.New, q.key)
	mac.Write([]byte(enc))
	return mac.Sum(nil)
}

// QRToken is the verified content of a QR payload.
type QRToken struct {
	UserID   string
	IssuedAt time.Time
	Nonce    string
}

// Parse checks the signature and returns the embedded claims.
func (q *QRCodec) Parse(payload string) (QRToken, error) {
	enc, sig, ok := strings.Cut(strings.TrimSpace(payload), ".")
	if !ok || enc == "" {
		return QRToken{}, errQRMalformed
	}
	gotSig, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(gotSig, q.sign(enc)) {
		return QRToken{}, fmt.Errorf("%w: bad signature", errQRMalformed)
	}
	claims, err := decodeQRClaims(enc)
	if err != nil {
		return QRToken{}, err
	}
	return QRToken{UserID: claims.UserID, IssuedAt: time.UnixMilli(claims.IssuedAt), Nonce: claims.Nonce}, nil
}

// NonceStore remembers spent QR nonces. ConsumeNonce reports false when
// nonce was already consumed within ttl.
type NonceStore interface {
	ConsumeNonce(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

func decodeQRClaims(enc string) (qrClaims, error) {
	var claims qrClaims
	body, err := base64.RawURLEncoding.DecodeString(enc)
	if err != nil {
		return claims, errQRMalformed
	}
	if err := json.Unmarshal(body, &claims); err != nil || claims.UserID == "" || claims.IssuedAt == 0 {
		return claims, errQRMalformed
	}
	return claims, nil
}

// QR verifies scanned QR payloads.
type QR struct {
	codec    *QRCodec
	nonces   NonceStore
	validity time.Duration
	dir      Directory
	errs     Errors
	timeout  time.Duration
	now      func() time.Time
}

// NewQR returns a QR verifier. With a nil nonces store a payload may be
// replayed until it expires.
func NewQR(codec *QRCodec, nonces NonceStore, validity time.Duration, dir Directory, errs Errors, timeout time.Duration, now func() time.Time) *QR {
	if validity <= 0 {
		validity = DefaultQRValidity
	}
	if now == nil {
		now = time.Now
	}
	return &QR{codec: codec, nonces: nonces, validity: validity, dir: dir, errs: errs, timeout: timeout, now: now}
}

func (q *QR) Method() model.Method { return model.MethodQR }

// RateKey charges the embedded user id when the payload decodes, else the
// client address.
func (q *QR) RateKey(c Credentials) string {
	enc, _, _ := strings.Cut(strings.TrimSpace(c.QRPayload), ".")
	if claims, err := decodeQRClaims(enc); err == nil {
		return "qr:" + claims.UserID
	}
	if c.IP != "" {
		return "qr-ip:" + c.IP
	}
	return "qr-ip:" + model.DeviceToken(c.UserAgent)
}

func (q *QR) Verify(ctx context.Context, c Credentials) (Result, error) {
	res := Result{Attempt: audit.QRAttempt{}}
	if strings.TrimSpace(c.QRPayload) == "" {
		return res, q.errs.Validation
	}

	tok, err := q.codec.Parse(c.QRPayload)
	if err != nil {
		return res, fmt.Errorf("%w: %v", q.errs.Validation, err)
	}

	now := q.now()
	age := now.Sub(tok.IssuedAt)
	res.Attempt = audit.QRAttempt{IssuedAt: tok.IssuedAt, AgeSeconds: age.Seconds()}

	if age > q.validity {
		return res, q.errs.Expired
	}
	if age < -qrClockSkew {
		return res, fmt.Errorf("%w: issued in the future", q.errs.Validation)
	}

	if q.nonces != nil {
		if tok.Nonce == "" {
			return res, fmt.Errorf("%w: missing nonce", q.errs.Validation)
		}
		fresh, err := lookup(ctx, q.timeout, q.errs, func(ctx context.Context) (bool, error) {
			return q.nonces.ConsumeNonce(ctx, tok.Nonce, q.validity+qrClockSkew)
		})
		if err != nil {
			return res, err
		}
		if !fresh {
			return res, fmt.Errorf("%w: payload already used", q.errs.Validation)
		}
	}

	id, err := lookup(ctx, q.timeout, q.errs, func(ctx context.Context) (model.Identity, error) {
		return q.dir.GetByID(ctx, tok.UserID)
	})
	if err != nil {
		return res, err
	}
	res.Identity = id
	return res, nil
}

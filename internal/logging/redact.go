package logging

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	masked        = "[REDACTED]"
	maskedPattern = "[REDACTED:pattern]"
)

// credentialShapes match bearer headers and JWTs wherever they appear,
// including free text in messages and error strings.
var credentialShapes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+\S+`),
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
}

func scrub(s string) (string, bool) {
	out := s
	for _, re := range credentialShapes {
		out = re.ReplaceAllString(out, maskedPattern)
	}
	return out, out != s
}

// redactingEncoder masks sensitive keys and credential-shaped values before
// they reach the underlying encoder. The Add* methods see fields attached
// through With; EncodeEntry sees per-call fields and the message.
type redactingEncoder struct {
	zapcore.Encoder
	keys map[string]struct{}
}

func newRedactingEncoder(base zapcore.Encoder, sensitive []string) *redactingEncoder {
	keys := make(map[string]struct{}, len(sensitive))
	for _, k := range sensitive {
		keys[strings.ToLower(k)] = struct{}{}
	}
	return &redactingEncoder{Encoder: base, keys: keys}
}

func (e *redactingEncoder) sensitive(key string) bool {
	_, ok := e.keys[strings.ToLower(key)]
	return ok
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys}
}

func (e *redactingEncoder) AddString(key, val string) {
	switch {
	case e.sensitive(key):
		val = masked
	default:
		if _, hit := scrub(val); hit {
			val = maskedPattern
		}
	}
	e.Encoder.AddString(key, val)
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		val = []byte(masked)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		val = []byte(masked)
	}
	e.Encoder.AddBinary(key, val)
}

func (e *redactingEncoder) AddReflected(key string, val interface{}) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, masked)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, masked)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, masked)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	ent.Message, _ = scrub(ent.Message)

	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		switch {
		case e.sensitive(f.Key):
			out[i] = zap.String(f.Key, masked)
		case f.Type == zapcore.StringType:
			if _, hit := scrub(f.String); hit {
				out[i] = zap.String(f.Key, maskedPattern)
				continue
			}
			out[i] = f
		case f.Type == zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				if s, hit := scrub(err.Error()); hit {
					out[i] = zap.String(f.Key, s)
					continue
				}
			}
			out[i] = f
		default:
			out[i] = f
		}
	}
	return e.Encoder.EncodeEntry(ent, out)
}

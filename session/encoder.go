package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

// Encode serializes s. Every string field must fit in 255 bytes.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionCurrent)

	for _, f := range []struct {
		name, value string
	}{
		{"userID", s.UserID},
		{"email", s.Email},
		{"name", s.Name},
		{"role", s.Role},
		{"method", s.Method},
		{"ip", s.IP},
		{"device", s.Device},
	} {
		if len(f.value) > 255 {
			return nil, errors.New(f.name + " too long")
		}
		buf.WriteByte(byte(len(f.value)))
		buf.WriteString(f.value)
	}

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. SessionID is not part of the blob.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}
	for _, dst := range []*string{&s.UserID, &s.Email, &s.Name, &s.Role, &s.Method, &s.IP, &s.Device} {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*dst = string(raw)
	}

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing session bytes")
	}
	return s, nil
}

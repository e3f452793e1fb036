package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Version 1 layout, fixed offsets after the variable-length user id:
//
//	version | status | len(userID) | userID |
//	currentHash[32] | previousHash[32] |
//	previousUsableUntil | lastRotatedAt | createdAt | expiresAt (int64 BE each)
//
// The rotate Lua script in the Redis store depends on these offsets; any
// layout change needs a new version byte and a matching script update.
const sessionFormatVersionCurrent = 1

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)
	buf.WriteByte(s.Status)

	if len(s.UserID) == 0 {
		return nil, errors.New("userID required")
	}
	if len(s.UserID) > 255 {
		return nil, errors.New("userID too long")
	}
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	buf.Write(s.CurrentRefreshHash[:])
	buf.Write(s.PreviousRefreshHash[:])

	for _, v := range []int64{s.PreviousUsableUntil, s.LastRotatedAt, s.CreatedAt, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	if version != sessionFormatVersionCurrent {
		return nil, fmt.Errorf("%w: unknown version %d", ErrSessionCorrupt, version)
	}

	s := &Session{}

	status, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	s.Status = status

	userLen, err := reader.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	if userLen == 0 {
		return nil, fmt.Errorf("%w: empty userID", ErrSessionCorrupt)
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	s.UserID = string(userID)

	if _, err := io.ReadFull(reader, s.CurrentRefreshHash[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	if _, err := io.ReadFull(reader, s.PreviousRefreshHash[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}

	for _, dst := range []*int64{&s.PreviousUsableUntil, &s.LastRotatedAt, &s.CreatedAt, &s.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
		}
	}

	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrSessionCorrupt)
	}

	return s, nil
}

package story

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// DomainStory is the hash domain for story identity.
// Version suffix enables future algorithm migration.
const DomainStory = "storygate/story/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// identity is the canonical form hashed into a story ID.
// Fields are declared in sorted key order so encoding/json emits sorted keys.
type identity struct {
	Position    int    `json:"position"`
	PublishDate string `json:"publish_date"`
	Title       string `json:"title"`
}

// ID computes the content-addressed identifier of a story.
// The ID is stable across regenerations given the same date, position and
// title. Strings are NFC normalized before hashing.
func ID(publishDate string, position int, title string) (string, error) {
	canonical, err := marshalIdentity(identity{
		Position:    position,
		PublishDate: norm.NFC.String(publishDate),
		Title:       norm.NFC.String(title),
	})
	if err != nil {
		return "", fmt.Errorf("story id: %w", err)
	}
	return hashWithDomain(DomainStory, canonical), nil
}

// marshalIdentity encodes without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshalIdentity(v identity) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Normalize returns s with title and content NFC normalized and the ID
// recomputed from the normalized fields.
func Normalize(s Story) (Story, error) {
	s.Title = norm.NFC.String(s.Title)
	s.Content = norm.NFC.String(s.Content)
	id, err := ID(s.PublishDate, s.Position, s.Title)
	if err != nil {
		return Story{}, err
	}
	s.ID = id
	return s, nil
}

// Package queue defines the job message sent to listeners and the broker
// publishers that carry it.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dharsanguruparan/datavault/internal/signing"
)

// ErrBadSignature is returned by Decode when the signature does not match.
var ErrBadSignature = errors.New("job signature mismatch")

// JobMessage asks a listener to process one file.
type JobMessage struct {
	FileID      string            `json:"fileId"`
	FileName    string            `json:"fileName"`
	DatasetID   string            `json:"datasetId"`
	VersionID   string            `json:"versionId"`
	ContentType string            `json:"contentType"`
	Bytes       int64             `json:"bytes"`
	Listener    string            `json:"listener"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Submitter   string            `json:"submitter"`
	Submitted   time.Time         `json:"submitted"`
	Signature   string            `json:"signature,omitempty"`
}

// RoutingKey joins the namespace prefix and the listener name.
func RoutingKey(prefix, listener string) string {
	return prefix + listener
}

// ListenerFromRoutingKey strips prefix, reporting false if it is absent.
func ListenerFromRoutingKey(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return "", false
	}
	return strings.TrimPrefix(key, prefix), true
}

// Encode signs msg and returns the wire payload.
func Encode(msg JobMessage, signer *signing.Signer) ([]byte, error) {
	msg.Signature = ""
	unsigned, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	msg.Signature = signer.Sign(unsigned)
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

// Decode parses a payload and checks its signature.
func Decode(payload []byte, signer *signing.Signer) (JobMessage, error) {
	var msg JobMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return JobMessage{}, fmt.Errorf("unmarshal job: %w", err)
	}
	sig := msg.Signature
	msg.Signature = ""
	unsigned, err := json.Marshal(msg)
	if err != nil {
		return JobMessage{}, fmt.Errorf("marshal job: %w", err)
	}
	if !signer.Validate(unsigned, sig) {
		return JobMessage{}, fmt.Errorf("job for %s: %w", msg.FileID, ErrBadSignature)
	}
	msg.Signature = sig
	return msg, nil
}

package schema

import (
	"encoding/json"
	"errors"
	"unicode/utf8"

	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
)

// Decode parses raw file bytes into a validated document. Failures are
// reported as a *CorruptionError whose Stage says which check rejected the
// content: encoding, decode or schema.
func Decode(path string, data []byte) (state.Document, error) {
	if !utf8.Valid(data) {
		return nil, aserrors.NewCorruptionError(path, aserrors.StageEncoding, errors.New("content is not valid UTF-8"))
	}
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, aserrors.NewCorruptionError(path, aserrors.StageDecode, err)
	}
	if err := Check(raw); err != nil {
		return nil, aserrors.NewCorruptionError(path, aserrors.StageSchema, err)
	}
	return state.Document(raw.(map[string]interface{})), nil
}

// Encode renders doc as 2-space indented JSON with a trailing newline, the
// on-disk format of every state file.
func Encode(doc state.Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

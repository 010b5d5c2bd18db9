package llmcap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deusversus/aidm/pkg/provider/llm"
)

// CompleteWithSchema performs schema-constrained structured extraction:
// the JSON schema is appended to the prompt, the response is parsed into
// target, and a failed parse gets exactly one repair round-trip (the model
// is shown its own output and the decode error). A second failure surfaces
// as [SchemaError].
//
// target must be a pointer; schemaJSON is the JSON Schema text shown to
// the model. Providers with native structured-output modes still benefit
// from the embedded schema as grounding.
func (l *Layer) CompleteWithSchema(ctx context.Context, agentName string, blocks Blocks, schemaJSON string, target any, opts Options) error {
	provider, _, err := l.Resolve(agentName)
	if err != nil {
		return err
	}

	prompted := blocks
	prompted.StablePrefix = blocks.StablePrefix + "\n\nRespond with a single JSON object matching this schema, and nothing else:\n" + schemaJSON

	resp, err := l.completeWithRetry(ctx, agentName, provider, prompted.request(opts))
	if err != nil {
		return err
	}

	raw := resp.Content
	decodeErr := decodeStrictJSON(raw, target)
	if decodeErr == nil {
		return nil
	}

	// One repair attempt: the model sees its own output and the error.
	repair := prompted
	repair.History = append(append([]llm.Message{}, prompted.History...),
		llm.Message{Role: "user", Content: prompted.Dynamic},
		llm.Message{Role: "assistant", Content: raw},
	)
	repair.Dynamic = fmt.Sprintf("That response did not validate: %v. Reply again with ONLY the corrected JSON object.", decodeErr)

	resp, err = l.completeWithRetry(ctx, agentName, provider, repair.request(opts))
	if err != nil {
		return err
	}
	if decodeErr = decodeStrictJSON(resp.Content, target); decodeErr != nil {
		return &SchemaError{Agent: agentName, Raw: resp.Content, Err: decodeErr}
	}
	return nil
}

// decodeStrictJSON extracts the first JSON object from raw (models often
// wrap output in code fences despite instructions) and decodes it into
// target with unknown fields rejected.
func decodeStrictJSON(raw string, target any) error {
	payload := extractJSON(raw)
	if payload == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// extractJSON returns the outermost {...} span of raw, tolerating fenced
// code blocks and prose preambles.
func extractJSON(raw string) string {
	s := raw
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

package relay

import (
	"encoding/json"
	"fmt"
)

// PartType describes the kind of content in a part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartAudio PartType = "audio"
	PartFile  PartType = "file"
)

// Part is a structured content fragment of a message. Adapters convert parts
// to the vendor's native attachment representation and fail fast on kinds the
// vendor does not accept.
type Part interface {
	partType() PartType
}

// TextPart represents text content.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) partType() PartType { return PartText }

func (p TextPart) MarshalJSON() ([]byte, error) {
	type alias TextPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartText, alias(p)})
}

// ImagePart represents base64-encoded image content.
type ImagePart struct {
	MimeType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

func (ImagePart) partType() PartType { return PartImage }

func (p ImagePart) MarshalJSON() ([]byte, error) {
	type alias ImagePart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartImage, alias(p)})
}

// AudioPart represents base64-encoded audio content.
type AudioPart struct {
	MimeType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

func (AudioPart) partType() PartType { return PartAudio }

func (p AudioPart) MarshalJSON() ([]byte, error) {
	type alias AudioPart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartAudio, alias(p)})
}

// FilePart represents an attached document.
type FilePart struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

func (FilePart) partType() PartType { return PartFile }

func (p FilePart) MarshalJSON() ([]byte, error) {
	type alias FilePart
	return json.Marshal(struct {
		Type PartType `json:"type"`
		alias
	}{PartFile, alias(p)})
}

// UnmarshalPart decodes a JSON object into a concrete Part type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw struct {
		Type PartType `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case PartText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartImage:
		var p ImagePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartAudio:
		var p AudioPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PartFile:
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown part type: %s", raw.Type)
	}
}

func unmarshalParts(rawParts []json.RawMessage) ([]Part, error) {
	if len(rawParts) == 0 {
		return nil, nil
	}
	parts := make([]Part, 0, len(rawParts))
	for _, raw := range rawParts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

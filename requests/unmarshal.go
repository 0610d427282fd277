package requests

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/blobtree"
	"github.com/brettbedarf/blobtree/internal/util"
)

// DefaultContentType is used for put operations that declare none.
const DefaultContentType = "application/octet-stream"

// Manifest formats accepted by [UnmarshalManifest].
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// GetOpType extracts the operation type from JSON without full unmarshaling
func GetOpType(data []byte) (OpType, error) {
	var meta struct {
		Op OpType `json:"op"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	return meta.Op, nil
}

// UnmarshalOp decodes and validates a single JSON operation.
func UnmarshalOp(data []byte) (Op, error) {
	var dto OpRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return Op{}, err
	}
	return convertOpDTO(dto)
}

// UnmarshalManifest decodes a manifest in the given format and validates
// every operation. Errors name the zero-based index of the bad operation.
func UnmarshalManifest(data []byte, format string) ([]Op, error) {
	var dto ManifestDTO
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &dto); err != nil {
			return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &dto); err != nil {
			return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format: %s", format)
	}

	ops := make([]Op, 0, len(dto.Ops))
	for i, opDTO := range dto.Ops {
		op, err := convertOpDTO(opDTO)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// LoadManifestFile reads a manifest, choosing the format by extension
// (.yaml, .yml or .json).
func LoadManifestFile(path string) ([]Op, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return UnmarshalManifest(data, FormatYAML)
	case ".json":
		return UnmarshalManifest(data, FormatJSON)
	default:
		return nil, fmt.Errorf("unknown manifest file extension: %s", path)
	}
}

// convertOpDTO checks that the fields required by dto.Op are present and
// parses its paths.
func convertOpDTO(dto OpRequestDTO) (Op, error) {
	op := Op{Type: dto.Op, Name: dto.Name, Recursive: dto.Recursive, Resume: dto.Resume}

	var err error
	switch dto.Op {
	case MkdirOpType, RemoveOpType:
		op.Path, err = requirePath("path", dto.Path)
	case PutOpType:
		if op.Path, err = requirePath("path", dto.Path); err != nil {
			return Op{}, err
		}
		op.ContentType = util.Deref(dto.ContentType, DefaultContentType)
		op.Data, err = decodeContent(dto)
	case MoveOpType:
		if op.Path, err = requirePath("src", dto.Src); err != nil {
			return Op{}, err
		}
		op.Dest, err = parseField("dest", dto.Dest)
	case RenameOpType:
		if op.Path, err = requirePath("path", dto.Path); err != nil {
			return Op{}, err
		}
		err = blobtree.ValidateName(dto.Name)
	case "":
		err = errors.New("missing op")
	default:
		err = fmt.Errorf("unknown op: %s", dto.Op)
	}
	if err != nil {
		return Op{}, err
	}
	return op, nil
}

func decodeContent(dto OpRequestDTO) ([]byte, error) {
	switch {
	case dto.Content != nil && dto.ContentBase64 != nil:
		return nil, errors.New("content and content_base64 are exclusive")
	case dto.ContentBase64 != nil:
		data, err := base64.StdEncoding.DecodeString(*dto.ContentBase64)
		if err != nil {
			return nil, fmt.Errorf("content_base64: %w", err)
		}
		return data, nil
	case dto.Content != nil:
		return []byte(*dto.Content), nil
	}
	return []byte{}, nil
}

func parseField(field, raw string) (blobtree.Path, error) {
	p, err := blobtree.ParsePath(raw)
	if err != nil {
		return blobtree.Path{}, fmt.Errorf("%s: %w", field, err)
	}
	return p, nil
}

// requirePath is parseField for fields that must not name the root.
func requirePath(field, raw string) (blobtree.Path, error) {
	p, err := parseField(field, raw)
	if err != nil {
		return blobtree.Path{}, err
	}
	if p.IsRoot() {
		return blobtree.Path{}, &blobtree.PathError{Op: "manifest", Path: raw, Reason: field + " must not be the root"}
	}
	return p, nil
}

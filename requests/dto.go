package requests

// OpType names a manifest operation.
type OpType string

const (
	MkdirOpType  OpType = "mkdir"
	PutOpType    OpType = "put"
	RemoveOpType OpType = "rm"
	MoveOpType   OpType = "mv"
	RenameOpType OpType = "rename"
)

// ManifestDTO is the file representation of a list of tree operations,
// applied in order.
//
// Example (YAML):
//
//	ops:
//	  - op: mkdir
//	    path: projects/2024
//	  - op: put
//	    path: projects/2024/notes.txt
//	    content: hello
//	    content_type: text/plain
//	  - op: mv
//	    src: drafts
//	    dest: projects/2024/drafts
//	  - op: rm
//	    path: tmp
//	    recursive: true
type ManifestDTO struct {
	Ops []OpRequestDTO `json:"ops" yaml:"ops"`
}

// OpRequestDTO is the JSON/YAML representation of a single [Op]. Which
// fields apply depends on Op:
//
//	mkdir:  path
//	put:    path, content or content_base64, content_type
//	rm:     path, recursive (required for folders)
//	mv:     src, dest, resume (folders only)
//	rename: path, name
type OpRequestDTO struct {
	Op            OpType  `json:"op" yaml:"op"`
	Path          string  `json:"path,omitempty" yaml:"path,omitempty"`
	Src           string  `json:"src,omitempty" yaml:"src,omitempty"`
	Dest          string  `json:"dest,omitempty" yaml:"dest,omitempty"`
	Name          string  `json:"name,omitempty" yaml:"name,omitempty"`
	Content       *string `json:"content,omitempty" yaml:"content,omitempty"`
	ContentBase64 *string `json:"content_base64,omitempty" yaml:"content_base64,omitempty"`
	ContentType   *string `json:"content_type,omitempty" yaml:"content_type,omitempty"` // Default application/octet-stream
	Recursive     bool    `json:"recursive,omitempty" yaml:"recursive,omitempty"`
	Resume        bool    `json:"resume,omitempty" yaml:"resume,omitempty"`
}

package backend

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	kindOpenInterface = "open_interface"
	kindCancel        = "cancel"
)

// wireRequest is a frame sent to the backend. Frames are self-delimiting
// msgpack maps written back to back.
type wireRequest struct {
	Kind                  string   `msgpack:"kind"`
	ID                    string   `msgpack:"id"`
	Module                string   `msgpack:"module,omitempty"`
	Name                  string   `msgpack:"name,omitempty"`
	SynthesizedExtensions bool     `msgpack:"synthesized_extensions,omitempty"`
	CompilerArgs          []string `msgpack:"compiler_args,omitempty"`
}

// wireResponse is a frame received from the backend. Error is empty on
// success; SourceText may be absent.
type wireResponse struct {
	ID         string  `msgpack:"id"`
	SourceText *string `msgpack:"source_text,omitempty"`
	Error      string  `msgpack:"error,omitempty"`
}

type frameWriter struct {
	enc *msgpack.Encoder
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{enc: msgpack.NewEncoder(w)}
}

func (w *frameWriter) write(v any) error {
	return w.enc.Encode(v)
}

type frameReader struct {
	dec *msgpack.Decoder
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{dec: msgpack.NewDecoder(r)}
}

func (r *frameReader) readResponse() (wireResponse, error) {
	var resp wireResponse
	err := r.dec.Decode(&resp)
	return resp, err
}

func (r *frameReader) readRequest() (wireRequest, error) {
	var req wireRequest
	err := r.dec.Decode(&req)
	return req, err
}

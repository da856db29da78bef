package asyncop

import (
	"bytes"
	"encoding/json"
	"fmt"
	goimage "image"
	"image/jpeg"
	"image/png"

	"github.com/intellabs/vdms-go/internal/image"
	"github.com/intellabs/vdms-go/internal/storage"
)

func encodeFrame(frame goimage.Image, format image.Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case image.FormatPNG:
		err = png.Encode(&buf, frame)
	default:
		err = jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return nil, fmt.Errorf("asyncop: encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

func writeFile(path string, data []byte) error {
	return storage.WriteBlob(path, data)
}

func opKind(op image.Op) string {
	switch op.(type) {
	case image.RemoteOp:
		return "RemoteOp"
	case image.UserOp:
		return "UserOp"
	default:
		return fmt.Sprintf("%T", op)
	}
}

func errNoUserOpRegistry(name string) error {
	return fmt.Errorf("asyncop: no user-op registry configured for %q", name)
}

func errUnexpectedOp(op image.Op) error {
	return fmt.Errorf("asyncop: unexpected op type %T queued for async dispatch", op)
}

func errRemoteStatus(code int) error {
	return fmt.Errorf("asyncop: remote op returned status %d", code)
}

// encodeJSON marshals v for the pub/sub payload; a marshal failure here
// would mean payload itself is malformed, so it falls back to a minimal
// JSON error object rather than publishing nothing.
func encodeJSON(v interface{}) []byte {
	body, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"status":"failed","error":"encoding notification"}`)
	}
	return body
}

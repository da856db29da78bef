package video

import (
	"io"
	"os"

	"github.com/intellabs/vdms-go/internal/vdmserr"
)

func copyFile(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return vdmserr.Wrap(vdmserr.KindMedia, err, "opening source video")
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return vdmserr.Wrap(vdmserr.KindMedia, err, "creating destination video")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return vdmserr.Wrap(vdmserr.KindMedia, err, "copying video bytes")
	}
	return nil
}

package handler

import "github.com/intellabs/vdms-go/internal/vdmserr"

var errIntervalOnImage = vdmserr.New(vdmserr.KindMedia, "interval op is not valid on a still image")

package handler

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/eddynotadi/mosquito-hunter/internal/app/service"
	"github.com/eddynotadi/mosquito-hunter/internal/common"
)

const (
	imageField     = "image"
	usernameField  = "username"
	multipartSlack = 1 << 20 // Headers and form fields on top of the file
	maxFieldBytes  = 4 << 10
)

// readUpload streams a multipart image upload. The image part's filename is
// checked as soon as its header arrives, so a disallowed file is rejected
// for its type whatever its size, and no part is buffered beyond the limit.
func readUpload(w http.ResponseWriter, r *http.Request, svc *service.SubmissionService) (*service.Upload, error) {
	maxBytes := svc.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartSlack)

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, missingFile()
	}

	var up *service.Upload
	var username string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isBodyTooLarge(err) {
				return nil, svc.TooLarge()
			}
			return nil, missingFile()
		}

		switch part.FormName() {
		case imageField:
			if up != nil {
				break
			}
			// A file input left empty arrives with no filename.
			if err := svc.CheckFile(part.FileName(), 0); err != nil {
				return nil, err
			}
			up, err = readImagePart(part, svc)
			if err != nil {
				return nil, err
			}
		case usernameField:
			b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				return nil, missingFile()
			}
			username = string(b)
		}
		part.Close()
	}

	if up == nil {
		return nil, missingFile()
	}
	up.Username = strings.TrimSpace(username)
	return up, nil
}

func readImagePart(part *multipart.Part, svc *service.SubmissionService) (*service.Upload, error) {
	maxBytes := svc.MaxUploadBytes()
	data, err := io.ReadAll(io.LimitReader(part, maxBytes+1))
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, svc.TooLarge()
		}
		return nil, common.NewAppError(common.ErrValidation, common.CodeInvalidImage, "Invalid or corrupted image file", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, svc.TooLarge()
	}
	return &service.Upload{
		Filename:    part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func missingFile() error {
	return common.NewAppError(common.ErrValidation, common.CodeMissingFile, "No image file provided", nil)
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

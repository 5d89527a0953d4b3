package common

// Error codes returned in the "code" field of error responses.
const (
	CodeMissingFile        = "MISSING_FILE"
	CodeNoFileSelected     = "NO_FILE_SELECTED"
	CodeInvalidFileType    = "INVALID_FILE_TYPE"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeMissingUsername    = "MISSING_USERNAME"
	CodeInvalidImage       = "INVALID_IMAGE"
	CodeDuplicateImage     = "DUPLICATE_IMAGE"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeVerificationError  = "VERIFICATION_ERROR"
	CodeSaveError          = "SAVE_ERROR"
	CodeSubmissionError    = "SUBMISSION_ERROR"
	CodeUnexpectedError    = "UNEXPECTED_ERROR"

	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUserExists         = "USER_EXISTS"
	CodeUserNotFound       = "USER_NOT_FOUND"
	CodeImageNotFound      = "IMAGE_NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeTokenRequired      = "TOKEN_REQUIRED"
	CodeInvalidToken       = "INVALID_TOKEN"
)

//go:build !cgo

package extract

func ocrText([]byte, []string) (string, error) {
	return "", ErrOCRUnavailable
}

//go:build cgo

package extract

import "github.com/otiai10/gosseract/v2"

func ocrText(data []byte, langs []string) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(langs) > 0 {
		if err := client.SetLanguage(langs...); err != nil {
			return "", err
		}
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", err
	}
	return client.Text()
}

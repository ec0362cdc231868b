package netlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/crimson-sun/speedtrace/internal/model"
)

// LoadURLList reads a download_urls.json / upload_urls.json file.
func LoadURLList(path string) (model.URLList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.URLList{}, fmt.Errorf("netlog: %w: %s", ErrMissingFile, path)
		}
		return model.URLList{}, fmt.Errorf("netlog: read %s: %w", path, err)
	}
	var list model.URLList
	if err := json.Unmarshal(data, &list); err != nil {
		return model.URLList{}, fmt.Errorf("netlog: parse url list %s: %w", path, err)
	}
	return list, nil
}

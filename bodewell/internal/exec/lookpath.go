package exec

import (
	osexec "os/exec"
	"strings"

	"github.com/pkg/errors"
)

func lookPath(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		return name, nil
	}

	path, err := osexec.LookPath(name)
	if err != nil {
		return "", errors.Wrapf(err, "failed to find %q", name)
	}

	return path, nil
}

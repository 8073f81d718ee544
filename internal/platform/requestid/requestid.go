// Package requestid issues correlation ids attached to every inbound request.
package requestid

import "github.com/google/uuid"

func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

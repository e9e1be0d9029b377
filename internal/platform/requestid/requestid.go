package requestid

import (
	"strings"

	"github.com/google/uuid"
)

// Header is the request id header shared by inbound and outbound requests.
const Header = "X-Request-Id"

// New returns a 32 character hex id.
func New() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

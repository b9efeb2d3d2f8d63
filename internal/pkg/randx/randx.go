/*
Package randx generates identifiers used to correlate log lines for a connection.
*/
package randx

import (
	"strings"

	"github.com/google/uuid"
)

// SessionIDLength is the length of the short session identifier.
const SessionIDLength = 12

// SessionID returns a short random identifier for a connection session. It is only used in
// logs and never leaves the server.
func SessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:SessionIDLength]
}

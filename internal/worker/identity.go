package worker

import (
	"fmt"

	"github.com/google/uuid"
)

// PointID is the record id of one chunk: a UUIDv5 in the OID namespace over
// "<engine>:<docID>:<chunkIndex>". The same chunk always gets the same id, in
// any process and in any implementation following this scheme.
func PointID(engine string, docID, chunkIndex int) string {
	name := fmt.Sprintf("%s:%d:%d", engine, docID, chunkIndex)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

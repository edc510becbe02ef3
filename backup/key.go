package backup

import (
	"fmt"
	"strings"
	"time"
)

// maxEpoch is the fixed far-future pivot for reverse-epoch keys. Keys embed
// maxEpoch-now zero-padded to 11 digits, so ascending lexicographic listing
// under the shared prefix yields newest-first — the store only supports
// ascending alphabetical listing.
const maxEpoch int64 = 99999999999

const keySuffix = ".tar.gz"

// BuildKey returns the object key for a backup of dirName taken at ts:
// <prefix><reverse-epoch, 11 digits><YYYYMMDDHH><dirName>.tar.gz
func BuildKey(prefix, dirName string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s%011d%s%s%s",
		prefix, maxEpoch-ts.Unix(), ts.Format("2006010215"), dirName, keySuffix)
}

// MatchesDir reports whether key is a backup of dirName.
func MatchesDir(key, dirName string) bool {
	return strings.HasSuffix(key, dirName+keySuffix)
}

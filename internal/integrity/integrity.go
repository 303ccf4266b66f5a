// Package integrity checks extracted microdata against pinned MD5 digests.
//
// MD5 only detects transmission corruption and silent changes to the files
// published by the origin; it is not a defense against a malicious origin.
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"maps"
	"strings"

	"github.com/italolelis/censo_downloader/internal/microdata"
)

// Digest returns the lowercase hex MD5 of data.
func Digest(data []byte) string {
	sum := md5.Sum(data)

	return hex.EncodeToString(sum[:])
}

// Digests maps table slug and year to the expected lowercase hex digest.
// It is read-only once built and safe for concurrent lookups.
type Digests struct {
	byTable map[string]map[int]string
}

// NewDigests builds a table from a slug -> year -> digest map.
func NewDigests(entries map[string]map[int]string) *Digests {
	d := &Digests{byTable: make(map[string]map[int]string, len(entries))}

	for table, years := range entries {
		cp := make(map[int]string, len(years))
		for year, digest := range years {
			cp[year] = strings.ToLower(digest)
		}

		d.byTable[table] = cp
	}

	return d
}

// Builtin returns the digests pinned against the archives published by INEP.
func Builtin() *Digests {
	return NewDigests(map[string]map[int]string{
		microdata.Cursos.Slug(): {
			2009: "677421fb8ad9442370175cbadae05b77",
			2010: "8ea106ef7dc41a27a43b9f246cfd3ffd",
			2011: "f626dd6d17e8f31f78ddf90f680ace48",
			2012: "f896c4a4e2b10adcf846d91486ab0ce8",
			2013: "2bbfbe1a9afe1fe5d0d7384901ae3b7e",
			2014: "bf70eb93a2a5cce0e0a48295c4834c20",
			2015: "b5bd1b6b10b4f66f359deed4ac48cb80",
			2016: "a9475f5f6815a5befb8bc91b8e2c7b1c",
			2017: "af97168b2d83b0e4b6c1572e619c183b",
			2018: "b852881daa9328e4ff3f3a2c6115ba51",
			2019: "f80ea1eddafae4780728e6fb26aa549f",
			2020: "a84c1efeedd8bcec4848ec8217b92b98",
			2021: "05d78ff911cea316cd65f08b0e93e83d",
		},
	})
}

// Lookup returns the expected digest for a table and year.
func (d *Digests) Lookup(table microdata.Table, year int) (string, bool) {
	if d == nil {
		return "", false
	}

	digest, ok := d.byTable[table.Slug()][year]

	return digest, ok && digest != ""
}

// Merge returns a new table where entries from other replace entries in d.
func (d *Digests) Merge(other *Digests) *Digests {
	out := &Digests{byTable: make(map[string]map[int]string)}

	for _, src := range []*Digests{d, other} {
		if src == nil {
			continue
		}

		for table, years := range src.byTable {
			if out.byTable[table] == nil {
				out.byTable[table] = make(map[int]string, len(years))
			}

			maps.Copy(out.byTable[table], years)
		}
	}

	return out
}

// Verify checks data against the pinned digest for table and year. It must run
// on the bytes exactly as they were extracted from the archive.
func (d *Digests) Verify(data []byte, table microdata.Table, year int) error {
	expected, ok := d.Lookup(table, year)
	if !ok {
		return &VerificationError{Table: table.Slug(), Year: year, Err: ErrNoReferenceDigest}
	}

	actual := Digest(data)
	if actual != expected {
		return &MismatchError{Table: table.Slug(), Year: year, Expected: expected, Actual: actual}
	}

	return nil
}

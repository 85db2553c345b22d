// Package disks catalogs named SD/MMC card geometries so tests and the
// afatfsctl demo CLI can build a simulator.Device sized like a real card
// instead of an arbitrary number of sectors, trimmed to the fields this
// FAT16/FAT32 design actually consults.
package disks

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"
)

// CardGeometry describes one named card preset.
type CardGeometry struct {
	Name              string `csv:"name"`
	Slug              string `csv:"slug"`
	FormFactor        string `csv:"form_factor"`
	BytesPerSector    uint   `csv:"bytes_per_sector"`
	TotalSectors      uint   `csv:"total_sectors"`
	SectorsPerCluster uint   `csv:"sectors_per_cluster"`
	FSType            string `csv:"fs_type"`
}

// TotalSizeBytes gives the card's nominal capacity.
func (g *CardGeometry) TotalSizeBytes() int64 {
	return int64(g.BytesPerSector) * int64(g.TotalSectors)
}

//go:embed card-geometries.csv
var cardGeometriesRawCSV string

var cardGeometries map[string]CardGeometry

// GetPredefinedCardGeometry looks up a card by slug, e.g. "sdhc-2gb".
func GetPredefinedCardGeometry(slug string) (CardGeometry, error) {
	geometry, ok := cardGeometries[slug]
	if !ok {
		return CardGeometry{}, fmt.Errorf("disks: no predefined card geometry with slug %q", slug)
	}
	return geometry, nil
}

func init() {
	cardGeometries = make(map[string]CardGeometry)

	reader := strings.NewReader(cardGeometriesRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row CardGeometry) error {
		if _, exists := cardGeometries[row.Slug]; exists {
			return fmt.Errorf("disks: duplicate definition for card %q", row.Slug)
		}
		cardGeometries[row.Slug] = row
		return nil
	})
	if err != nil {
		panic(err)
	}
}

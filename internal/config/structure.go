package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
)

// rawStructureDocument mirrors the on-disk GQ structure file layout:
//
//	gq_codes:
//	  - code: 4
//	    description: Deposits with banks
//	    part: I
//	    category: claims
//	    counterparty: banks
type rawStructureDocument struct {
	GQCodes []domain.CodeInfo `yaml:"gq_codes"`
}

// LoadStructure reads and validates a GQ structure definition YAML file,
// returning a lookup from GQ code to its descriptive metadata.
func LoadStructure(path string) (map[int]domain.CodeInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read structure file %s: %v", domain.ErrConfiguration, path, err)
	}
	return ParseStructure(data, path)
}

// ParseStructure validates an in-memory structure document. source is used
// in error messages only.
func ParseStructure(data []byte, source string) (map[int]domain.CodeInfo, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc rawStructureDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse structure file %s: %v", domain.ErrConfiguration, source, err)
	}

	if len(doc.GQCodes) == 0 {
		return nil, fmt.Errorf("%w: structure file %s defines no gq_codes", domain.ErrConfiguration, source)
	}

	lookup := make(map[int]domain.CodeInfo, len(doc.GQCodes))
	for i, info := range doc.GQCodes {
		if info.Code <= 0 {
			return nil, fmt.Errorf("%w: %s: gq_codes[%d] has invalid code %d", domain.ErrConfiguration, source, i, info.Code)
		}
		if _, dup := lookup[info.Code]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate gq code %d", domain.ErrConfiguration, source, info.Code)
		}
		lookup[info.Code] = info
	}
	return lookup, nil
}

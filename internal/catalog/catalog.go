// Package catalog reads product fixtures used to seed the ledger.
package catalog

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ariefcatur/wholesale-orders/internal/orders"
)

// File layout:
//
//	products:
//	  - id: p-bolts
//	    name: Hex bolts M8 (box)
//	    price: "12.10"
//	    currency: INR
//	    stock: 250
type file struct {
	Products []orders.Product `yaml:"products"`
}

func LoadFile(path string) ([]orders.Product, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) ([]orders.Product, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}

	seen := make(map[string]bool, len(doc.Products))
	for i := range doc.Products {
		p := &doc.Products[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
		switch {
		case p.ID == "":
			return nil, errors.Errorf("product %d: missing id", i)
		case seen[p.ID]:
			return nil, errors.Errorf("product %s: duplicate id", p.ID)
		case p.Price.IsNegative():
			return nil, errors.Errorf("product %s: negative price", p.ID)
		case p.Stock < 0:
			return nil, errors.Errorf("product %s: negative stock", p.ID)
		case len(p.Currency) != 3:
			return nil, errors.Errorf("product %s: currency must be a 3-letter code", p.ID)
		}
		seen[p.ID] = true
	}
	return doc.Products, nil
}

package extract

import (
	"strings"

	"github.com/mvrga/speer/internal/validate"
)

// bankCodeSpan is where the national bank code sits inside an IBAN.
var bankCodeSpan = map[string][2]int{
	"AT": {4, 9},
	"BE": {4, 7},
	"CH": {4, 9},
	"DE": {4, 12},
	"FR": {4, 9},
	"GB": {4, 8},
	"NL": {4, 8},
}

// defaultBICs seeds the directory with bank codes common on German and Dutch invoices.
var defaultBICs = map[string]string{
	"DE:37040044": "COBADEFFXXX",
	"DE:10070000": "DEUTDEBBXXX",
	"DE:50070010": "DEUTDEFFXXX",
	"DE:10010010": "PBNKDEFFXXX",
	"DE:12030000": "BYLADEM1001",
	"DE:50010517": "INGDDEFFXXX",
	"DE:70020270": "HYVEDEMMXXX",
	"NL:ABNA":     "ABNANL2AXXX",
	"NL:INGB":     "INGBNL2AXXX",
	"NL:RABO":     "RABONL2UXXX",
}

// BankDirectory derives a BIC from the bank code embedded in an IBAN.
type BankDirectory struct {
	entries map[string]string
}

// NewBankDirectory returns the built-in directory extended by overrides
// keyed "<country>:<bank code>".
func NewBankDirectory(overrides map[string]string) *BankDirectory {
	entries := make(map[string]string, len(defaultBICs)+len(overrides))
	for k, v := range defaultBICs {
		entries[k] = v
	}
	for k, v := range overrides {
		entries[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &BankDirectory{entries: entries}
}

// Lookup returns the BIC registered for a valid IBAN's bank code.
func (d *BankDirectory) Lookup(iban string) (string, bool) {
	if d == nil || validate.IBAN(iban) != nil {
		return "", false
	}
	span, ok := bankCodeSpan[iban[:2]]
	if !ok || len(iban) < span[1] {
		return "", false
	}
	bic, ok := d.entries[iban[:2]+":"+iban[span[0]:span[1]]]
	return bic, ok
}

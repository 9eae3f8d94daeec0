package extract

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"

	"github.com/mvrga/speer/internal/models"
	"github.com/mvrga/speer/internal/validate"
)

// xmlRule maps a field to element paths (local names from the root, "@attr"
// for attributes). Paths are tried in order and the first one present decides.
type xmlRule struct {
	field     models.FieldName
	paths     []string
	normalize normalizer
}

// ublRules cover OASIS UBL 2.x invoices, the XRechnung UBL syntax.
var ublRules = []xmlRule{
	{models.FieldInvoiceNumber, []string{"Invoice/ID"}, normalizeIdentity},
	{models.FieldInvoiceDate, []string{"Invoice/IssueDate"}, validate.ParseDate},
	{models.FieldAmount, []string{
		"Invoice/LegalMonetaryTotal/PayableAmount",
		"Invoice/LegalMonetaryTotal/TaxInclusiveAmount",
	}, validate.ParseAmount},
	{models.FieldCurrency, []string{
		"Invoice/DocumentCurrencyCode",
		"Invoice/LegalMonetaryTotal/PayableAmount@currencyID",
	}, validate.NormalizeCurrency},
	{models.FieldIBAN, []string{"Invoice/PaymentMeans/PayeeFinancialAccount/ID"}, normalizeLabeledIBAN},
	{models.FieldBIC, []string{"Invoice/PaymentMeans/PayeeFinancialAccount/FinancialInstitutionBranch/ID"}, normalizeIdentity},
}

const ciiSettlement = "CrossIndustryInvoice/SupplyChainTradeTransaction/ApplicableHeaderTradeSettlement"

// ciiRules cover UN/CEFACT Cross Industry Invoices (ZUGFeRD, Factur-X, XRechnung CII).
var ciiRules = []xmlRule{
	{models.FieldInvoiceNumber, []string{"CrossIndustryInvoice/ExchangedDocument/ID"}, normalizeIdentity},
	{models.FieldInvoiceDate, []string{"CrossIndustryInvoice/ExchangedDocument/IssueDateTime/DateTimeString"}, validate.ParseDate},
	{models.FieldAmount, []string{
		ciiSettlement + "/SpecifiedTradeSettlementHeaderMonetarySummation/DuePayableAmount",
		ciiSettlement + "/SpecifiedTradeSettlementHeaderMonetarySummation/GrandTotalAmount",
	}, validate.ParseAmount},
	{models.FieldCurrency, []string{ciiSettlement + "/InvoiceCurrencyCode"}, validate.NormalizeCurrency},
	{models.FieldIBAN, []string{ciiSettlement + "/SpecifiedTradeSettlementPaymentMeans/PayeePartyCreditorFinancialAccount/IBANID"}, normalizeLabeledIBAN},
	{models.FieldBIC, []string{ciiSettlement + "/SpecifiedTradeSettlementPaymentMeans/PayeeSpecifiedCreditorFinancialInstitution/BICID"}, normalizeIdentity},
}

var rulesByRoot = map[string][]xmlRule{
	"Invoice":              ublRules,
	"CrossIndustryInvoice": ciiRules,
}

// parseXML reads a structured e-invoice. The returned error is terminal for
// the attempt; the string slice holds per-field findings.
func parseXML(content []byte, directory *BankDirectory) (models.Fields, []string, error) {
	root, values, err := collectXML(content)
	if err != nil {
		return nil, nil, fmt.Errorf("xml: %w", err)
	}
	rules, ok := rulesByRoot[root]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported structured format: %s", root)
	}

	fields := models.Fields{}
	var errs []string
	for _, rule := range rules {
		var raw []string
		for _, path := range rule.paths {
			if v := values[path]; len(v) > 0 {
				raw = v
				break
			}
		}
		var normalized []string
		for _, r := range raw {
			if v, err := rule.normalize(r); err == nil {
				normalized = append(normalized, v)
			} else {
				errs = append(errs, fmt.Sprintf("invalid %s: %s", rule.field, strings.TrimSpace(r)))
			}
		}
		v, errMsg := resolve(rule.field, normalized)
		if errMsg != "" {
			errs = append(errs, errMsg)
			continue
		}
		if v != "" {
			fields[rule.field] = v
		}
	}

	if _, ok := fields.Get(models.FieldBIC); !ok {
		if iban, ok := fields.Get(models.FieldIBAN); ok {
			if bic, ok := directory.Lookup(iban); ok {
				fields[models.FieldBIC] = bic
			}
		}
	}
	return fields, errs, nil
}

// collectXML flattens a document into element-path to text values, ignoring namespaces.
func collectXML(content []byte) (string, map[string][]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	dec.CharsetReader = charsetReader

	var (
		root  string
		stack []string
		texts []*strings.Builder
	)
	values := make(map[string][]string)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root == "" {
				root = t.Name.Local
			}
			stack = append(stack, t.Name.Local)
			texts = append(texts, &strings.Builder{})
			path := strings.Join(stack, "/")
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				values[path+"@"+attr.Name.Local] = append(values[path+"@"+attr.Name.Local], attr.Value)
			}
		case xml.CharData:
			if len(texts) > 0 {
				texts[len(texts)-1].Write(t)
			}
		case xml.EndElement:
			path := strings.Join(stack, "/")
			if v := strings.TrimSpace(texts[len(texts)-1].String()); v != "" {
				values[path] = append(values[path], v)
			}
			stack = stack[:len(stack)-1]
			texts = texts[:len(texts)-1]
		}
	}
	if root == "" {
		return "", nil, errors.New("no root element")
	}
	return root, values, nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

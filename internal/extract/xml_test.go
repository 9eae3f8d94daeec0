package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvrga/speer/internal/models"
)

const ublInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
         xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
         xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>INV-2024-001</cbc:ID>
  <cbc:IssueDate>2024-03-15</cbc:IssueDate>
  <cbc:DocumentCurrencyCode>EUR</cbc:DocumentCurrencyCode>
  <cac:PaymentMeans>
    <cbc:PaymentMeansCode>58</cbc:PaymentMeansCode>
    <cac:PayeeFinancialAccount>
      <cbc:ID>DE89370400440532013000</cbc:ID>
    </cac:PayeeFinancialAccount>
  </cac:PaymentMeans>
  <cac:LegalMonetaryTotal>
    <cbc:TaxInclusiveAmount currencyID="EUR">450.00</cbc:TaxInclusiveAmount>
    <cbc:PayableAmount currencyID="EUR">450.00</cbc:PayableAmount>
  </cac:LegalMonetaryTotal>
</Invoice>`

const ciiInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<rsm:CrossIndustryInvoice xmlns:rsm="urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"
    xmlns:ram="urn:un:unece:uncefact:data:standard:ReusableAggregateBusinessInformationEntity:100"
    xmlns:udt="urn:un:unece:uncefact:data:standard:UnqualifiedDataType:100">
  <rsm:ExchangedDocument>
    <ram:ID>RE-4711</ram:ID>
    <ram:IssueDateTime><udt:DateTimeString format="102">20240315</udt:DateTimeString></ram:IssueDateTime>
  </rsm:ExchangedDocument>
  <rsm:SupplyChainTradeTransaction>
    <ram:ApplicableHeaderTradeSettlement>
      <ram:InvoiceCurrencyCode>EUR</ram:InvoiceCurrencyCode>
      <ram:SpecifiedTradeSettlementPaymentMeans>
        <ram:TypeCode>58</ram:TypeCode>
        <ram:PayeePartyCreditorFinancialAccount><ram:IBANID>NL91ABNA0417164300</ram:IBANID></ram:PayeePartyCreditorFinancialAccount>
        <ram:PayeeSpecifiedCreditorFinancialInstitution><ram:BICID>ABNANL2A</ram:BICID></ram:PayeeSpecifiedCreditorFinancialInstitution>
      </ram:SpecifiedTradeSettlementPaymentMeans>
      <ram:SpecifiedTradeSettlementHeaderMonetarySummation>
        <ram:GrandTotalAmount>1190.00</ram:GrandTotalAmount>
        <ram:DuePayableAmount>1190.00</ram:DuePayableAmount>
      </ram:SpecifiedTradeSettlementHeaderMonetarySummation>
    </ram:ApplicableHeaderTradeSettlement>
  </rsm:SupplyChainTradeTransaction>
</rsm:CrossIndustryInvoice>`

func TestParseXML_UBL(t *testing.T) {
	fields, errs, err := parseXML([]byte(ublInvoice), NewBankDirectory(nil))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, models.Fields{
		models.FieldInvoiceNumber: "INV-2024-001",
		models.FieldInvoiceDate:   "2024-03-15",
		models.FieldAmount:        "450.00",
		models.FieldCurrency:      "EUR",
		models.FieldIBAN:          "DE89370400440532013000",
		models.FieldBIC:           "COBADEFFXXX",
	}, fields)
}

func TestParseXML_CII(t *testing.T) {
	fields, errs, err := parseXML([]byte(ciiInvoice), NewBankDirectory(nil))
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, models.Fields{
		models.FieldInvoiceNumber: "RE-4711",
		models.FieldInvoiceDate:   "2024-03-15",
		models.FieldAmount:        "1190.00",
		models.FieldCurrency:      "EUR",
		models.FieldIBAN:          "NL91ABNA0417164300",
		models.FieldBIC:           "ABNANL2A",
	}, fields)
}

func TestParseXML_AmbiguousIBAN(t *testing.T) {
	doc := `<Invoice>
  <ID>7</ID>
  <PaymentMeans><PayeeFinancialAccount><ID>DE89370400440532013000</ID></PayeeFinancialAccount></PaymentMeans>
  <PaymentMeans><PayeeFinancialAccount><ID>NL91ABNA0417164300</ID></PayeeFinancialAccount></PaymentMeans>
</Invoice>`
	fields, errs, err := parseXML([]byte(doc), NewBankDirectory(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"ambiguous iban: DE89370400440532013000, NL91ABNA0417164300"}, errs)
	assert.Equal(t, models.Fields{models.FieldInvoiceNumber: "7"}, fields)
}

func TestParseXML_Latin1(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><Invoice><ID>Nr-\xfc1</ID></Invoice>"
	fields, _, err := parseXML([]byte(doc), NewBankDirectory(nil))
	require.NoError(t, err)
	assert.Equal(t, "NR-Ü1", fields[models.FieldInvoiceNumber])
}

func TestParseXML_Failures(t *testing.T) {
	_, _, err := parseXML([]byte(`<Order><ID>1</ID></Order>`), nil)
	require.Error(t, err)
	assert.Equal(t, "unsupported structured format: Order", err.Error())

	_, _, err = parseXML([]byte(`<Invoice><ID>1</Invoice>`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml: ")

	_, _, err = parseXML(nil, nil)
	require.Error(t, err)
	assert.Equal(t, "xml: no root element", err.Error())
}

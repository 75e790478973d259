package sepa

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"time"
)

const pain008NS = "urn:iso:std:iso:20022:tech:xsd:pain.008.001.02"

type pain008Document struct {
	XMLName xml.Name `xml:"Document"`
	Xmlns   string   `xml:"xmlns,attr"`
	Init    struct {
		GrpHdr pain008GroupHeader `xml:"GrpHdr"`
		PmtInf []pain008PmtInf    `xml:"PmtInf"`
	} `xml:"CstmrDrctDbtInitn"`
}

type pain008GroupHeader struct {
	MsgID    string `xml:"MsgId"`
	CreDtTm  string `xml:"CreDtTm"`
	NbOfTxs  int    `xml:"NbOfTxs"`
	CtrlSum  string `xml:"CtrlSum"`
	InitgPty struct {
		Nm string `xml:"Nm"`
	} `xml:"InitgPty"`
}

type pain008PmtInf struct {
	PmtInfID string `xml:"PmtInfId"`
	PmtMtd   string `xml:"PmtMtd"`
	NbOfTxs  int    `xml:"NbOfTxs"`
	CtrlSum  string `xml:"CtrlSum"`
	PmtTpInf struct {
		SvcLvl    string `xml:"SvcLvl>Cd"`
		LclInstrm string `xml:"LclInstrm>Cd"`
		SeqTp     string `xml:"SeqTp"`
	} `xml:"PmtTpInf"`
	ReqdColltnDt string `xml:"ReqdColltnDt"`
	Cdtr         struct {
		Nm string `xml:"Nm"`
	} `xml:"Cdtr"`
	CdtrAcct    string `xml:"CdtrAcct>Id>IBAN"`
	CdtrAgt     string `xml:"CdtrAgt>FinInstnId>BIC,omitempty"`
	ChrgBr      string `xml:"ChrgBr"`
	CdtrSchmeID struct {
		ID     string `xml:"Id>PrvtId>Othr>Id"`
		Scheme string `xml:"Id>PrvtId>Othr>SchmeNm>Prtry"`
	} `xml:"CdtrSchmeId"`
	Txs []pain008Tx `xml:"DrctDbtTxInf"`
}

type pain008Tx struct {
	EndToEndID string `xml:"PmtId>EndToEndId"`
	InstdAmt   struct {
		Ccy   string `xml:"Ccy,attr"`
		Value string `xml:",chardata"`
	} `xml:"InstdAmt"`
	MndtID    string `xml:"DrctDbtTx>MndtRltdInf>MndtId"`
	DtOfSgntr string `xml:"DrctDbtTx>MndtRltdInf>DtOfSgntr"`
	DbtrAgt   string `xml:"DbtrAgt>FinInstnId>BIC,omitempty"`
	Dbtr      struct {
		Nm string `xml:"Nm"`
	} `xml:"Dbtr"`
	DbtrAcct string `xml:"DbtrAcct>Id>IBAN"`
	Ustrd    string `xml:"RmtInf>Ustrd"`
}

// WriteXML writes a pain.008.001.02 customer direct debit initiation with one
// payment information block per collection date.
func WriteXML(w io.Writer, doc Document) error {
	var out pain008Document
	out.Xmlns = pain008NS

	created := doc.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	hdr := &out.Init.GrpHdr
	hdr.MsgID = clip(doc.MessageID, 35)
	hdr.CreDtTm = created.Format("2006-01-02T15:04:05")
	hdr.NbOfTxs = len(doc.Debits)
	hdr.CtrlSum = doc.Total().StringFixed(2)
	hdr.InitgPty.Nm = clip(doc.Creditor.Name, 70)

	byDate := map[string][]Debit{}
	for _, d := range doc.Debits {
		k := d.DueDate.Format("2006-01-02")
		byDate[k] = append(byDate[k], d)
	}
	dates := make([]string, 0, len(byDate))
	for k := range byDate {
		dates = append(dates, k)
	}
	sort.Strings(dates)

	for i, date := range dates {
		debits := byDate[date]
		var pi pain008PmtInf
		pi.PmtInfID = clip(fmt.Sprintf("%s-%d", doc.MessageID, i+1), 35)
		pi.PmtMtd = "DD"
		pi.NbOfTxs = len(debits)
		pi.CtrlSum = Document{Debits: debits}.Total().StringFixed(2)
		pi.PmtTpInf.SvcLvl = "SEPA"
		pi.PmtTpInf.LclInstrm = "CORE"
		pi.PmtTpInf.SeqTp = "RCUR"
		pi.ReqdColltnDt = date
		pi.Cdtr.Nm = clip(doc.Creditor.Name, 70)
		pi.CdtrAcct = doc.Creditor.IBAN
		pi.CdtrAgt = doc.Creditor.BIC
		pi.ChrgBr = "SLEV"
		pi.CdtrSchmeID.ID = doc.Creditor.CreditorID
		pi.CdtrSchmeID.Scheme = "SEPA"

		for _, d := range debits {
			var tx pain008Tx
			tx.EndToEndID = clip(d.EndToEndID, 35)
			tx.InstdAmt.Ccy = doc.Currency
			tx.InstdAmt.Value = d.Amount.StringFixed(2)
			tx.MndtID = d.MandateRef
			tx.DtOfSgntr = d.MandateDate.Format("2006-01-02")
			tx.DbtrAgt = d.BIC
			tx.Dbtr.Nm = clip(d.Holder, 70)
			tx.DbtrAcct = d.IBAN
			tx.Ustrd = clip(d.Remittance, 140)
			pi.Txs = append(pi.Txs, tx)
		}
		out.Init.PmtInf = append(out.Init.PmtInf, pi)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode pain.008: %w", err)
	}
	return enc.Flush()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

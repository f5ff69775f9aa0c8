package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"kycdesk/api/internal/store"
)

var summaryTemplate = template.Must(template.New("summary").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"orDash": func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "-"
		}
		return s
	},
	"yesNo": func(b bool) string {
		if b {
			return "Uploaded"
		}
		return "Pending"
	},
}).Parse(summaryHTML))

// TemplateData holds data for case summary rendering
type TemplateData struct {
	Name             string
	Status           string
	CreatedAt        time.Time
	GeneratedAt      time.Time
	Directors        []TemplateDirector
	CompanyInfo      store.CompanyInfo
	ProfessionalInfo store.ProfessionalInfo
}

// TemplateDirector is one director's column in the summary
type TemplateDirector struct {
	Number    int
	Validated bool
	Pan       store.PanData
	Aadhaar   store.AadhaarData
	Manual    store.Director
	Documents []TemplateDocument
}

// TemplateDocument is one upload slot row
type TemplateDocument struct {
	Type     string
	FileName string
	Status   string
	Error    string
}

// NewTemplateData flattens a case for the summary template. Document payloads are never
// rendered; only their names and statuses are.
func NewTemplateData(c store.Case, generatedAt time.Time) TemplateData {
	data := TemplateData{
		Name:             c.Name,
		Status:           string(c.Status),
		CreatedAt:        c.CreatedAt,
		GeneratedAt:      generatedAt,
		CompanyInfo:      c.CompanyInfo,
		ProfessionalInfo: c.ProfessionalInfo,
	}
	for i, d := range c.Directors {
		director := TemplateDirector{Number: i + 1, Validated: d.Validated, Manual: d}
		if d.PanData != nil {
			director.Pan = *d.PanData
		}
		if d.AadhaarData != nil {
			director.Aadhaar = *d.AadhaarData
		}
		for _, slot := range d.Documents {
			director.Documents = append(director.Documents, TemplateDocument{
				Type:     string(slot.Type),
				FileName: slot.FileName,
				Status:   string(slot.Status),
				Error:    slot.ErrorMessage,
			})
		}
		data.Directors = append(data.Directors, director)
	}
	return data
}

// RenderCaseSummaryHTML renders the summary template with provided data
func RenderCaseSummaryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const summaryHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}} - KYC summary</title>
  <style>
    body { font-family: Arial, sans-serif; font-size: 11pt; line-height: 1.4; margin: 0 auto; max-width: 760px; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.4rem; }
    h2 { margin-top: 1.6rem; font-size: 13pt; }
    .meta { color: #666; font-size: 0.9em; }
    table { border-collapse: collapse; width: 100%; margin-top: 0.5rem; }
    th, td { border: 1px solid #bbb; padding: 4px 6px; text-align: left; vertical-align: top; }
    th { background: #f2f2f2; width: 38%; }
    .status-error { color: #b00020; }
    .approved { color: #1b5e20; font-weight: bold; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  <div class="meta">Status: {{upper .Status}} | Opened {{formatDate .CreatedAt "02 Jan 2006"}} | Generated {{formatDate .GeneratedAt "02 Jan 2006 15:04"}}</div>
  {{range .Directors}}
  <h2>Director {{.Number}}{{if .Validated}} <span class="approved">(approved)</span>{{end}}</h2>
  <table>
    <tr><th>Name (PAN)</th><td>{{orDash .Pan.Name}}</td></tr>
    <tr><th>Father's name</th><td>{{orDash .Pan.FathersName}}</td></tr>
    <tr><th>Date of birth</th><td>{{orDash .Pan.DateOfBirth}}</td></tr>
    <tr><th>PAN</th><td>{{orDash .Pan.PANNumber}}</td></tr>
    <tr><th>Aadhaar</th><td>{{orDash .Aadhaar.AadhaarNumber}}</td></tr>
    <tr><th>Gender</th><td>{{orDash .Aadhaar.Gender}}</td></tr>
    <tr><th>Address</th><td>{{orDash .Aadhaar.Address}}</td></tr>
    <tr><th>Place of birth</th><td>{{orDash .Manual.PlaceOfBirth}}</td></tr>
    <tr><th>Nationality</th><td>{{orDash .Manual.Nationality}}</td></tr>
    <tr><th>Resident of India</th><td>{{orDash .Manual.ResidentOfIndia}}</td></tr>
    <tr><th>Occupation</th><td>{{orDash .Manual.Occupation}}</td></tr>
    <tr><th>Education</th><td>{{orDash .Manual.Education}}</td></tr>
    <tr><th>Shares subscribed</th><td>{{orDash .Manual.SharesSubscribed}}</td></tr>
    <tr><th>Duration at address</th><td>{{orDash .Manual.DurationAtAddress}}</td></tr>
    <tr><th>Email</th><td>{{orDash .Manual.Email}}</td></tr>
    <tr><th>Mobile</th><td>{{orDash .Manual.Mobile}}</td></tr>
    <tr><th>DIN</th><td>{{orDash .Manual.DINNumber}}</td></tr>
  </table>
  {{if .Documents}}
  <table>
    <tr><th>Document</th><td><b>File / status</b></td></tr>
    {{range .Documents}}<tr><th>{{upper .Type}}</th><td>{{orDash .FileName}} - <span{{if eq .Status "error"}} class="status-error"{{end}}>{{.Status}}</span>{{if .Error}} ({{.Error}}){{end}}</td></tr>
    {{end}}
  </table>
  {{end}}
  {{end}}
  <h2>Company</h2>
  <table>
    <tr><th>Electricity bill</th><td>{{yesNo .CompanyInfo.ElectricityBillUploaded}}</td></tr>
    <tr><th>NOC</th><td>{{yesNo .CompanyInfo.NOCUploaded}}</td></tr>
    <tr><th>Latitude / longitude</th><td>{{orDash .CompanyInfo.Latitude}} / {{orDash .CompanyInfo.Longitude}}</td></tr>
    <tr><th>Office email</th><td>{{orDash .CompanyInfo.OfficeEmail}}</td></tr>
    <tr><th>Office mobile</th><td>{{orDash .CompanyInfo.OfficeMobile}}</td></tr>
    <tr><th>Authorized share capital</th><td>{{orDash .CompanyInfo.AuthorizedShareCapital}}</td></tr>
    <tr><th>Paid-up share capital</th><td>{{orDash .CompanyInfo.PaidUpShareCapital}}</td></tr>
    <tr><th>Objectives</th><td>{{orDash .CompanyInfo.Objectives}}</td></tr>
    <tr><th>Other objectives</th><td>{{orDash .CompanyInfo.OtherObjectives}}</td></tr>
  </table>
  <h2>Professional</h2>
  <table>
    <tr><th>Name</th><td>{{orDash .ProfessionalInfo.Name}}</td></tr>
    <tr><th>Membership no.</th><td>{{orDash .ProfessionalInfo.MembershipNo}}</td></tr>
    <tr><th>Address</th><td>{{orDash .ProfessionalInfo.Address}}</td></tr>
  </table>
</body>
</html>`

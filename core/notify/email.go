package notify

import (
	"bytes"
	"html/template"
	"time"
)

var uploadEmailTemplate = template.Must(template.New("upload").Parse(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2c3e50; border-bottom: 2px solid #3498db; padding-bottom: 10px;">Policy Document Upload Notification</h2>
  <div style="background-color: #f8f9fa; padding: 20px; border-radius: 8px; margin: 20px 0;">
    <p><strong>Policy ID:</strong> <code>{{.PolicyID}}</code></p>
    <p><strong>File Name:</strong> <code>{{.FileName}}</code></p>
    <p><strong>Upload Time:</strong> {{.UploadTime}}</p>
    <p><strong>Download:</strong> <a href="{{.DownloadURL}}">{{.DownloadURL}}</a></p>
  </div>
  {{- if .Attached}}
  <div style="background-color: #d4edda; padding: 15px; border-radius: 8px; border-left: 4px solid #28a745;">
    <p style="margin: 0; color: #155724;">The file has been uploaded to the server and is attached to this email.</p>
  </div>
  {{- else}}
  <div style="background-color: #fff3cd; padding: 15px; border-radius: 8px; border-left: 4px solid #ffc107;">
    <p style="margin: 0; color: #856404;">The file could not be attached. Use the download link above.</p>
  </div>
  {{- end}}
  <hr style="margin: 30px 0; border: none; border-top: 1px solid #dee2e6;">
  <p style="color: #6c757d; font-size: 12px; text-align: center;">This is an automated notification from the LexCoverzy policy upload service.</p>
</div>
`))

type emailView struct {
	PolicyID    string
	FileName    string
	UploadTime  string
	DownloadURL string
	Attached    bool
}

func uploadSubject(policyID string) string {
	return "New Policy PDF Uploaded - " + policyID
}

func renderUploadEmail(policyID, fileName, downloadURL string, uploadedAt time.Time, attached bool) (string, error) {
	var buf bytes.Buffer
	err := uploadEmailTemplate.Execute(&buf, emailView{
		PolicyID:    policyID,
		FileName:    fileName,
		UploadTime:  uploadedAt.UTC().Format(time.RFC1123),
		DownloadURL: downloadURL,
		Attached:    attached,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

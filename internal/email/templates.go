package email

import (
	"bytes"
	"fmt"
	"html/template"
)

var confirmTemplate = template.Must(template.New("confirm_email").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Confirm your Foyer account</title>
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; margin: 0; padding: 0; background-color: #f5f5f5;">
<table role="presentation" style="width: 100%; border: 0; cellpadding: 0; cellspacing: 0;">
<tr><td style="padding: 40px 0; text-align: center;">
<table role="presentation" style="max-width: 480px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; box-shadow: 0 1px 3px rgba(0,0,0,0.1);">
<tr><td style="padding: 32px 40px; text-align: center;">
<h1 style="margin: 0 0 16px; font-size: 24px; color: #1a1a1a;">Welcome to Foyer, {{.Username}}</h1>
<p style="margin: 0 0 24px; color: #666; font-size: 15px; line-height: 1.5;">
Click the button below to confirm your email address and activate your account. This link expires in 48 hours.
</p>
<a href="{{.ConfirmURL}}" style="display: inline-block; padding: 12px 32px; background: #2563eb; color: #ffffff; text-decoration: none; border-radius: 6px; font-size: 15px; font-weight: 500;">
Confirm Email
</a>
<p style="margin: 24px 0 0; color: #999; font-size: 13px; line-height: 1.5;">
If you didn't create a Foyer account, you can safely ignore this email.
</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

// ConfirmData holds template data for the account confirmation email.
type ConfirmData struct {
	Username   string
	ConfirmURL string
}

// RenderConfirmEmail renders the account confirmation HTML email.
func RenderConfirmEmail(data ConfirmData) (html, text string, err error) {
	var buf bytes.Buffer
	if err := confirmTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render confirm template: %w", err)
	}

	textBody := fmt.Sprintf("Welcome to Foyer, %s\n\nConfirm your email address to activate your account: %s\n\nThis link expires in 48 hours. If you didn't create a Foyer account, ignore this email.", data.Username, data.ConfirmURL)

	return buf.String(), textBody, nil
}

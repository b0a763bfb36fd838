package notification

import (
	"bytes"
	"fmt"
	"html/template"
)

// Email is a rendered owner-facing message.
type Email struct {
	Kind    string
	Subject string
	HTML    string
}

const (
	KindPaymentFailed = "payment_failed"
	KindReminder      = "payment_reminder"
	KindSuspended     = "subscription_suspended"
	KindDispute       = "payment_dispute"
)

var (
	paymentFailedTmpl = template.Must(template.New("payment_failed").Parse(`
<p>Hi {{.TenantName}},</p>
<p>We could not collect payment for your subscription. Please update your
payment method to keep full access to your workspace.</p>
<p>Your access will be suspended if the payment keeps failing.</p>`))

	reminderTmpl = template.Must(template.New("payment_reminder").Parse(`
<p>Hi {{.TenantName}},</p>
<p>Your subscription payment is still failing. You have
<strong>{{.DaysRemaining}} day{{if ne .DaysRemaining 1}}s{{end}}</strong>
left to update your payment method before your workspace is suspended.</p>`))

	suspendedTmpl = template.Must(template.New("subscription_suspended").Parse(`
<p>Hi {{.TenantName}},</p>
<p>Your workspace has been suspended because we could not collect payment.
Update your payment method to restore access.</p>`))

	disputeTmpl = template.Must(template.New("payment_dispute").Parse(`
<p>Hi {{.TenantName}},</p>
<p>A payment on your subscription was disputed. No action is needed from you
right now; we will follow up if the dispute affects your account.</p>`))
)

type dunningData struct {
	TenantName    string
	DaysRemaining int
}

// PaymentFailedEmail announces the start of a dunning episode.
func PaymentFailedEmail(tenantName string) (Email, error) {
	html, err := render(paymentFailedTmpl, dunningData{TenantName: tenantName})
	if err != nil {
		return Email{}, err
	}
	return Email{
		Kind:    KindPaymentFailed,
		Subject: "Payment failed for your subscription",
		HTML:    html,
	}, nil
}

// ReminderEmail nags the owner while the grace period runs out.
func ReminderEmail(tenantName string, daysRemaining int) (Email, error) {
	if daysRemaining < 1 {
		daysRemaining = 1
	}
	html, err := render(reminderTmpl, dunningData{TenantName: tenantName, DaysRemaining: daysRemaining})
	if err != nil {
		return Email{}, err
	}
	return Email{
		Kind:    KindReminder,
		Subject: fmt.Sprintf("Payment reminder: %d day(s) until suspension", daysRemaining),
		HTML:    html,
	}, nil
}

// SuspendedEmail announces the end of the grace period.
func SuspendedEmail(tenantName string) (Email, error) {
	html, err := render(suspendedTmpl, dunningData{TenantName: tenantName})
	if err != nil {
		return Email{}, err
	}
	return Email{
		Kind:    KindSuspended,
		Subject: "Your workspace has been suspended",
		HTML:    html,
	}, nil
}

// DisputeEmail informs the owner about an opened dispute.
func DisputeEmail(tenantName string) (Email, error) {
	html, err := render(disputeTmpl, dunningData{TenantName: tenantName})
	if err != nil {
		return Email{}, err
	}
	return Email{
		Kind:    KindDispute,
		Subject: "A payment on your account was disputed",
		HTML:    html,
	}, nil
}

func render(tmpl *template.Template, data dunningData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

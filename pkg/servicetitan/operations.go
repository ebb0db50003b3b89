package servicetitan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type Slot struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	Technician string `json:"technicianName,omitempty"`
}

type availabilityResponse struct {
	Data []Slot `json:"data"`
}

type AppointmentRequest struct {
	CustomerID    string `json:"customerId"`
	JobType       string `json:"jobType"`
	PreferredDate string `json:"preferredDate"`
	PreferredTime string `json:"preferredTime,omitempty"`
	Notes         string `json:"summary,omitempty"`
}

type jobResponse struct {
	ID     any    `json:"id"`
	Number string `json:"jobNumber"`
}

type Customer struct {
	ID      any    `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phoneNumber"`
	Email   string `json:"email"`
	Address struct {
		Street string `json:"street"`
		City   string `json:"city"`
		Zip    string `json:"zip"`
	} `json:"address"`
}

type customersResponse struct {
	Data []Customer `json:"data"`
}

// CheckAvailability lists open slots between two YYYY-MM-DD dates.
func (c *Client) CheckAvailability(ctx context.Context, startDate, endDate, serviceType, zipCode string) (string, error) {
	q := url.Values{}
	q.Set("startDate", startDate)
	q.Set("endDate", endDate)
	if serviceType != "" {
		q.Set("serviceType", serviceType)
	}
	if zipCode != "" {
		q.Set("zipCode", zipCode)
	}

	var res availabilityResponse
	endpoint := c.tenantPath("/jpm/v1/tenants/%s/operations/scheduling/availability")
	if err := c.request(ctx, http.MethodGet, endpoint, q, nil, &res); err != nil {
		return "", fmt.Errorf("check availability: %w", err)
	}

	if len(res.Data) == 0 {
		return fmt.Sprintf(
			"No open appointment slots were found between %s and %s. Please ask the customer for other dates or suggest calling Kooler directly.",
			startDate, endDate,
		), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Available appointment slots between %s and %s:", startDate, endDate)
	for _, s := range res.Data {
		fmt.Fprintf(&b, "\n- %s to %s", s.Start, s.End)
		if s.Technician != "" {
			fmt.Fprintf(&b, " (technician: %s)", s.Technician)
		}
	}
	return b.String(), nil
}

func (c *Client) BookAppointment(ctx context.Context, req AppointmentRequest) (string, error) {
	var res jobResponse
	endpoint := c.tenantPath("/jpm/v1/tenants/%s/jobs")
	if err := c.request(ctx, http.MethodPost, endpoint, nil, req, &res); err != nil {
		return "", fmt.Errorf("book appointment: %w", err)
	}

	when := req.PreferredDate
	if req.PreferredTime != "" {
		when += " (" + req.PreferredTime + ")"
	}
	msg := fmt.Sprintf("Appointment booked for customer %s: %s on %s.", req.CustomerID, req.JobType, when)
	switch {
	case res.Number != "":
		msg += " Confirmation number: " + res.Number + "."
	case res.ID != nil:
		msg += fmt.Sprintf(" Confirmation number: %v.", res.ID)
	}
	return msg, nil
}

// LookupCustomer searches by any combination of phone, email and name.
func (c *Client) LookupCustomer(ctx context.Context, phone, email, name string) (string, error) {
	q := url.Values{}
	if phone != "" {
		q.Set("phone", phone)
	}
	if email != "" {
		q.Set("email", email)
	}
	if name != "" {
		q.Set("name", name)
	}
	if len(q) == 0 {
		return "", errors.New("lookup customer: at least one of phone_number, email or name is required")
	}

	var res customersResponse
	endpoint := c.tenantPath("/crm/v1/tenants/%s/customers")
	if err := c.request(ctx, http.MethodGet, endpoint, q, nil, &res); err != nil {
		return "", fmt.Errorf("lookup customer: %w", err)
	}

	if len(res.Data) == 0 {
		return "No customer record was found matching those details.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d customer record(s):", len(res.Data))
	for _, cust := range res.Data {
		fmt.Fprintf(&b, "\n- %s (ID %v)", cust.Name, cust.ID)
		if cust.Phone != "" {
			fmt.Fprintf(&b, ", phone %s", cust.Phone)
		}
		if cust.Email != "" {
			fmt.Fprintf(&b, ", email %s", cust.Email)
		}
		if cust.Address.Street != "" {
			fmt.Fprintf(&b, ", address %s, %s %s", cust.Address.Street, cust.Address.City, cust.Address.Zip)
		}
	}
	return b.String(), nil
}

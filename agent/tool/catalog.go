package tool

import (
	"context"
	"time"

	servicetitanx "github.com/Champsson/Kooler-Agent/pkg/servicetitan"
)

const (
	KnowledgeSearch   = "knowledge_search"
	CheckAvailability = "check_availability"
	BookAppointment   = "book_appointment"
	LookupCustomer    = "lookup_customer"
)

// KnowledgeSearcher returns reply text for every query. A non-nil error marks
// text that describes an upstream failure.
type KnowledgeSearcher interface {
	SearchErr(ctx context.Context, query string) (string, error)
}

type Scheduler interface {
	CheckAvailability(ctx context.Context, startDate, endDate, serviceType, zipCode string) (string, error)
	BookAppointment(ctx context.Context, req servicetitanx.AppointmentRequest) (string, error)
	LookupCustomer(ctx context.Context, phone, email, name string) (string, error)
}

// Deps are the backends of the built-in tools. A nil backend leaves its tools
// out of the catalog.
type Deps struct {
	Knowledge KnowledgeSearcher
	Scheduler Scheduler
}

func Builtins(deps Deps) []Tool {
	var tools []Tool

	if deps.Knowledge != nil {
		tools = append(tools, Tool{
			Name: KnowledgeSearch,
			Description: "Search the Kooler Garage Doors knowledge base for company information, " +
				"services, pricing, policies, warranties, hours and troubleshooting steps.",
			Parameters: []Param{
				{Name: "query", Description: "The customer's question or topic to look up.", Required: true},
			},
			CacheTTL: time.Hour,
			Handler: func(ctx context.Context, args Args) (string, error) {
				text, err := deps.Knowledge.SearchErr(ctx, args["query"])
				if err != nil {
					return "", &ReplyError{Text: text, Err: err}
				}
				return text, nil
			},
		})
	}

	if deps.Scheduler != nil {
		st := deps.Scheduler
		tools = append(tools,
			Tool{
				Name:        CheckAvailability,
				Description: "Check open appointment slots in ServiceTitan for a date range.",
				Parameters: []Param{
					{Name: "start_date", Description: "First date to check, YYYY-MM-DD.", Required: true},
					{Name: "end_date", Description: "Last date to check, YYYY-MM-DD.", Required: true},
					{Name: "service_type", Description: "Type of service requested, e.g. spring repair."},
					{Name: "zip_code", Description: "Customer zip code."},
				},
				CacheTTL: 15 * time.Minute,
				Handler: func(ctx context.Context, args Args) (string, error) {
					return st.CheckAvailability(ctx, args["start_date"], args["end_date"], args["service_type"], args["zip_code"])
				},
			},
			Tool{
				Name:        BookAppointment,
				Description: "Book a service appointment in ServiceTitan for an existing customer.",
				Parameters: []Param{
					{Name: "customer_id", Description: "ServiceTitan customer id.", Required: true},
					{Name: "job_type", Description: "Type of job or service to book.", Required: true},
					{Name: "preferred_date", Description: "Preferred date, YYYY-MM-DD.", Required: true},
					{Name: "preferred_time", Description: "Preferred time of day, e.g. Morning or Afternoon."},
					{Name: "notes", Description: "Notes for the technician."},
				},
				Handler: func(ctx context.Context, args Args) (string, error) {
					return st.BookAppointment(ctx, servicetitanx.AppointmentRequest{
						CustomerID:    args["customer_id"],
						JobType:       args["job_type"],
						PreferredDate: args["preferred_date"],
						PreferredTime: args["preferred_time"],
						Notes:         args["notes"],
					})
				},
			},
			Tool{
				Name:        LookupCustomer,
				Description: "Look up a customer record in ServiceTitan by phone number, email or name.",
				Parameters: []Param{
					{Name: "phone_number", Description: "Customer phone number."},
					{Name: "email", Description: "Customer email address."},
					{Name: "name", Description: "Customer full name."},
				},
				CacheTTL: 30 * time.Minute,
				Handler: func(ctx context.Context, args Args) (string, error) {
					return st.LookupCustomer(ctx, args["phone_number"], args["email"], args["name"])
				},
			},
		)
	}

	return tools
}

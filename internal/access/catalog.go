package access

import "strings"

// System is an entry of the fixed catalog of systems access can be requested for.
type System struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

var catalog = []System{
	{Code: "1", Name: "Active Directory"},
	{Code: "2", Name: "CRM"},
	{Code: "3", Name: "EDMS"},
	{Code: "4", Name: "Email"},
	{Code: "5", Name: "Help Desk"},
	{Code: "6", Name: "HRMIS"},
	{Code: "7", Name: "IDEA"},
	{Code: "8", Name: "IFMIS"},
	{Code: "9", Name: "Knowledge Base"},
	{Code: "10", Name: "Services"},
	{Code: "11", Name: "Teachers Online"},
	{Code: "12", Name: "TeamMate"},
	{Code: "13", Name: "TPAD"},
	{Code: "14", Name: "TPAY"},
	{Code: "15", Name: "Pydio"},
}

var catalogByCode = func() map[string]System {
	m := make(map[string]System, len(catalog))
	for _, s := range catalog {
		m[s.Code] = s
	}
	return m
}()

// Systems returns a copy of the catalog in code order.
func Systems() []System {
	out := make([]System, len(catalog))
	copy(out, catalog)
	return out
}

// LookupSystem finds a catalog entry by code.
func LookupSystem(code string) (System, bool) {
	s, ok := catalogByCode[strings.TrimSpace(code)]
	return s, ok
}

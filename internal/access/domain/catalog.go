package domain

// Company is a tenant the dashboard reports on.
type Company struct {
	ID   string
	Name string
}

// Warehouse belongs to a company.
type Warehouse struct {
	ID        string
	Name      string
	CompanyID string
}

// Tab is an opaque named capability (e.g. "ceo_view"). IDName is the stable key; DisplayName is for humans.
type Tab struct {
	ID          string
	IDName      string
	DisplayName string
}

// Permissions is the capability set granted to a profile.
type Permissions struct {
	Companies  []Company
	Warehouses []Warehouse
	Tabs       []Tab
}

// HasTab reports whether idName is in the allowed tab set.
func (p *Permissions) HasTab(idName string) bool {
	if p == nil {
		return false
	}
	for _, t := range p.Tabs {
		if t.IDName == idName {
			return true
		}
	}
	return false
}

// TabNames returns the allowed tab keys.
func (p *Permissions) TabNames() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Tabs))
	for _, t := range p.Tabs {
		out = append(out, t.IDName)
	}
	return out
}

// CompanyIDs returns the allowed company ids.
func (p *Permissions) CompanyIDs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Companies))
	for _, c := range p.Companies {
		out = append(out, c.ID)
	}
	return out
}

// WarehouseIDs returns the allowed warehouse ids.
func (p *Permissions) WarehouseIDs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Warehouses))
	for _, w := range p.Warehouses {
		out = append(out, w.ID)
	}
	return out
}

// Grants names catalog ids to add to a profile.
type Grants struct {
	CompanyIDs   []string
	WarehouseIDs []string
	TabIDs       []string
}

package search

// SearchType enumerates the entity kinds the backend can search.
type SearchType string

const (
	SearchZones      SearchType = "zones"
	SearchProjects   SearchType = "projects"
	SearchDevelopers SearchType = "developers"
	SearchPOIs       SearchType = "pois"
)

var validSearchTypes = map[string]bool{
	string(SearchZones):      true,
	string(SearchProjects):   true,
	string(SearchDevelopers): true,
	string(SearchPOIs):       true,
}

// FilterParams narrows a search by unit attributes.
type FilterParams struct {
	Bedrooms     *int    `json:"bedrooms,omitempty"`
	MinPrice     *int    `json:"minPrice,omitempty"`
	MaxPrice     *int    `json:"maxPrice,omitempty"`
	PropertyType *string `json:"propertyType,omitempty"`
}

// Params is the request body for the /ia/search endpoint.
type Params struct {
	NameQuery       *string       `json:"nameQuery,omitempty"`
	SemanticQuery   *string       `json:"semanticQuery,omitempty"`
	SearchIn        []string      `json:"searchIn"`
	Params          *FilterParams `json:"params,omitempty"`
	FlexibleSearch  bool          `json:"flexibleSearch"`
	IncludeExamples bool          `json:"includeExamples"`
}

// Normalize filters invalid searchIn values (defaulting to zones) and drops
// an empty filter object.
func (p *Params) Normalize() {
	var valid []string
	for _, st := range p.SearchIn {
		if validSearchTypes[st] {
			valid = append(valid, st)
		}
	}
	if len(valid) == 0 {
		valid = []string{string(SearchZones)}
	}
	p.SearchIn = valid

	if p.Params != nil &&
		p.Params.Bedrooms == nil && p.Params.MinPrice == nil &&
		p.Params.MaxPrice == nil && p.Params.PropertyType == nil {
		p.Params = nil
	}
}

// loginRequest is the body for /v2/auth/login-password.
type loginRequest struct {
	PreferredUsername string `json:"preferredUsername"`
	Password          string `json:"password"`
}

// authenticationResult carries the issued tokens.
type authenticationResult struct {
	AccessToken  string `json:"AccessToken"`
	ExpiresIn    int    `json:"ExpiresIn"`
	IDToken      string `json:"IdToken"`
	RefreshToken string `json:"RefreshToken"`
	TokenType    string `json:"TokenType"`
}

// loginResponse is the envelope returned by the login endpoint.
type loginResponse struct {
	AuthenticationResult authenticationResult `json:"AuthenticationResult"`
}

// Query describes the original user request for result formatting.
func (p *Params) Query() string {
	if p.NameQuery != nil && *p.NameQuery != "" {
		return *p.NameQuery
	}
	if p.SemanticQuery != nil && *p.SemanticQuery != "" {
		return *p.SemanticQuery
	}
	return "Real estate search"
}

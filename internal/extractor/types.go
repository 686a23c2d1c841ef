package extractor

// Objective is one study objective with its endpoints
type Objective struct {
	Objective string   `json:"objective"`
	Endpoints []string `json:"endpoints"`
}

// Objectives groups objectives by category
type Objectives struct {
	Primary     []Objective `json:"primary"`
	Secondary   []Objective `json:"secondary"`
	Exploratory []Objective `json:"exploratory"`
	Other       []Objective `json:"other"`
}

// Eligibility holds inclusion and exclusion criteria verbatim
type Eligibility struct {
	Inclusion []string `json:"inclusion"`
	Exclusion []string `json:"exclusion"`
}

// Visit describes how one study visit is defined and timed
type Visit struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Timing      string `json:"timing,omitempty"`
	Window      string `json:"window,omitempty"`
	Trigger     string `json:"trigger,omitempty"`
}

// VisitDefinitions lists visit definitions
type VisitDefinitions struct {
	Visits []Visit `json:"visits"`
}

// Procedure is one procedure performed under an assessment
type Procedure struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Assessment groups procedures under a named assessment
type Assessment struct {
	Category    string      `json:"category"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Procedures  []Procedure `json:"procedures"`
}

// KeyAssessments lists the protocol's key assessments
type KeyAssessments struct {
	Assessments []Assessment `json:"assessments"`
}

// ScheduledVisit is one column of a schedule of activities table
type ScheduledVisit struct {
	VisitName  string   `json:"visit_name"`
	StudyDay   string   `json:"study_day,omitempty"`
	Window     string   `json:"window,omitempty"`
	Procedures []string `json:"procedures"`
}

// ScheduleTable is one schedule of activities table
type ScheduleTable struct {
	TableTitle string           `json:"table_title,omitempty"`
	Visits     []ScheduledVisit `json:"visits"`
}

// ScheduleOfActivities holds every schedule table found in the context
type ScheduleOfActivities struct {
	Tables []ScheduleTable `json:"tables"`
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (o *Objectives) normalize() {
	o.Primary = normalizeObjectives(o.Primary)
	o.Secondary = normalizeObjectives(o.Secondary)
	o.Exploratory = normalizeObjectives(o.Exploratory)
	o.Other = normalizeObjectives(o.Other)
}

func normalizeObjectives(list []Objective) []Objective {
	list = orEmpty(list)
	for i := range list {
		list[i].Endpoints = orEmpty(list[i].Endpoints)
	}
	return list
}

func (e *Eligibility) normalize() {
	e.Inclusion = orEmpty(e.Inclusion)
	e.Exclusion = orEmpty(e.Exclusion)
}

func (v *VisitDefinitions) normalize() {
	v.Visits = orEmpty(v.Visits)
}

func (k *KeyAssessments) normalize() {
	k.Assessments = orEmpty(k.Assessments)
	for i := range k.Assessments {
		k.Assessments[i].Procedures = orEmpty(k.Assessments[i].Procedures)
	}
}

func (s *ScheduleOfActivities) normalize() {
	s.Tables = orEmpty(s.Tables)
	for i := range s.Tables {
		s.Tables[i].Visits = orEmpty(s.Tables[i].Visits)
		for j := range s.Tables[i].Visits {
			s.Tables[i].Visits[j].Procedures = orEmpty(s.Tables[i].Visits[j].Procedures)
		}
	}
}

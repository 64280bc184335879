package domain

// DataViewableTypes lists variable types the data viewer can open
var DataViewableTypes = map[string]bool{
	"DataFrame":   true,
	"list":        true,
	"dict":        true,
	"ndarray":     true,
	"Series":      true,
	"Tensor":      true,
	"EagerTensor": true,
	"DataArray":   true,
}

// DataFrameColumn describes one column of a data-frame-shaped variable
type DataFrameColumn struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// VariableRecord is one entry of the kernel variable snapshot.
// Truncated records came straight from a DAP variables response;
// hydration clears Truncated and fills Shape, Count, Columns and RowCount.
type VariableRecord struct {
	Name                 string            `json:"name"`
	Type                 string            `json:"type"`
	Value                string            `json:"value"`
	Size                 int               `json:"size"`
	Shape                string            `json:"shape"`
	Count                int               `json:"count"`
	Truncated            bool              `json:"truncated"`
	SupportsDataExplorer bool              `json:"supportsDataExplorer"`
	FrameID              int               `json:"frameId,omitempty"`
	EvaluateName         string            `json:"evaluateName,omitempty"`
	Columns              []DataFrameColumn `json:"columns,omitempty"`
	RowCount             int               `json:"rowCount,omitempty"`
	IndexColumn          string            `json:"indexColumn,omitempty"`
}

// SortColumn selects the field used to order a variable page
type SortColumn string

const (
	SortByName SortColumn = "name"
	SortByType SortColumn = "type"
)

// VariablesRequest asks for one page of the snapshot
type VariablesRequest struct {
	StartIndex     int        `json:"startIndex"`
	PageSize       int        `json:"pageSize"`
	SortColumn     SortColumn `json:"sortColumn"`
	SortAscending  bool       `json:"sortAscending"`
	ExecutionCount int        `json:"executionCount"`
	RefreshCount   int        `json:"refreshCount"`
}

// VariablesResponse is one page of the snapshot
type VariablesResponse struct {
	PageStartIndex int              `json:"pageStartIndex"`
	PageResponse   []VariableRecord `json:"pageResponse"`
	TotalCount     int              `json:"totalCount"`
	ExecutionCount int              `json:"executionCount"`
	RefreshCount   int              `json:"refreshCount"`
}

package grid

import (
	"context"
	"strconv"

	"github.com/pitabwire/gridform/model"
)

// Permissions gate the affordances a grid view offers.
type Permissions struct {
	Create bool
	Edit   bool
	Delete bool
}

// Row is one rendered grid row.
type Row struct {
	ID       int64
	Title    string
	Cells    []string
	EditLink string
	ViewLink string
	First    bool
	Last     bool
}

// Candidate is a record that can be linked into the grid.
type Candidate struct {
	ID    int64
	Title string
}

// View is the render-ready form of a grid page.
type View struct {
	Name    string
	Title   string
	Depth   int
	Columns []string
	Rows    []Row

	NewLink    string
	CanCreate  bool
	CanEdit    bool
	CanLink    bool
	LinkAction string
	Candidates []Candidate

	Page      int
	PageCount int
	Total     int
	PrevLink  string
	NextLink  string
}

// View renders the current page of the grid into a View.
func (g *Grid) View(ctx context.Context, perms Permissions) (View, error) {
	page, err := g.Page(ctx)
	if err != nil {
		return View{}, err
	}

	cols := g.Columns()
	v := View{
		Name:      g.Name(),
		Title:     g.Title(),
		Depth:     g.Depth,
		NewLink:   g.NewLink(),
		CanCreate: perms.Create,
		CanEdit:   perms.Edit,
		Page:      page.Number,
		PageCount: page.PageCount,
		Total:     page.Total,
	}
	for _, c := range cols {
		label := c.Label
		if label == "" {
			label = c.Field
		}
		v.Columns = append(v.Columns, label)
	}

	for i, rec := range page.Records {
		row := Row{
			ID:       rec.ID,
			Title:    rec.Title(g.Type),
			EditLink: g.ItemLink(rec.ID, "edit"),
			ViewLink: g.ItemLink(rec.ID, "view"),
			First:    i == 0,
			Last:     i == len(page.Records)-1,
		}
		for _, c := range cols {
			if c.Field == "ID" {
				row.Cells = append(row.Cells, strconv.FormatInt(rec.ID, 10))
				continue
			}
			row.Cells = append(row.Cells, model.FormatValue(rec.Get(c.Field)))
		}
		v.Rows = append(v.Rows, row)
	}

	if page.Number > 1 {
		v.PrevLink = g.PageLink(page.Number - 1)
	}
	if page.Number < page.PageCount {
		v.NextLink = g.PageLink(page.Number + 1)
	}

	if perms.Edit && g.CanLinkExisting() && (g.Owner != nil && !g.Owner.IsNew()) {
		candidates, err := g.LinkCandidates(ctx)
		if err != nil {
			return View{}, err
		}
		v.CanLink = true
		v.LinkAction = g.LinkAction()
		for _, c := range candidates {
			v.Candidates = append(v.Candidates, Candidate{ID: c.ID, Title: c.Title(g.Type)})
		}
	}
	return v, nil
}

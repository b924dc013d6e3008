package http_server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/danthegoodman1/icescan/ddl"
	"github.com/danthegoodman1/icescan/part"
	"github.com/danthegoodman1/icescan/table"
)

type (
	ColumnBody struct {
		Name         string `validate:"required"`
		Type         string `validate:"required"`
		Nullable     bool
		Key          bool
		RowTimestamp bool
		Encoding     string
		Compression  string
		BlockSize    int32
	}

	HashPartitionBody struct {
		Columns []string `validate:"required,min=1"`
		Buckets int      `validate:"required"`
	}

	CreateTableReqBody struct {
		Name          string       `validate:"required"`
		Columns       []ColumnBody `validate:"required,min=1,dive"`
		PrimaryKey    []string
		HashPartition *HashPartitionBody
		Replicas      *int
		Options       map[string]string
		IfNotExists   bool
	}

	// SelectBody is one select list entry. Exactly one of All, Column,
	// Aggregate or Literal should be set; Alias wraps it.
	SelectBody struct {
		All       bool
		Column    string
		Aggregate string
		Args      []SelectBody
		Literal   any
		Alias     string
	}

	CreateViewReqBody struct {
		Name        string       `validate:"required"`
		Source      string       `validate:"required"`
		GroupBy     []string
		Select      []SelectBody `validate:"required,min=1"`
		IfNotExists bool
	}

	RangePartitionReqBody struct {
		// Func is one of toHour, toDay, toMonth, toYear
		Func string    `validate:"required"`
		At   time.Time `validate:"required"`
	}

	TableResponse struct {
		Name    string
		ID      string
		Columns []table.Column
		Key     []string
		Options part.TableOptions
	}
)

func (s *HTTPServer) CreateTable(c *CustomContext) error {
	var reqBody CreateTableReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	def := ddl.CreateTable{
		Name:        reqBody.Name,
		PrimaryKey:  reqBody.PrimaryKey,
		Replicas:    reqBody.Replicas,
		Options:     reqBody.Options,
		IfNotExists: reqBody.IfNotExists,
	}
	for _, col := range reqBody.Columns {
		t, err := table.ParseColumnType(col.Type)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		def.Columns = append(def.Columns, ddl.ColumnDef{
			Name:         col.Name,
			Type:         t,
			Nullable:     col.Nullable,
			Key:          col.Key,
			RowTimestamp: col.RowTimestamp,
			Encoding:     col.Encoding,
			Compression:  col.Compression,
			BlockSize:    col.BlockSize,
		})
	}
	if hp := reqBody.HashPartition; hp != nil {
		def.HashPartition = &ddl.HashPartitionDef{Columns: hp.Columns, Buckets: hp.Buckets}
	}

	if err := s.DDL.CreateTable(c.Request().Context(), def); err != nil {
		return c.Fail(err, "error creating table")
	}
	return s.describe(c, def.Name, http.StatusCreated)
}

func (s *HTTPServer) CreateView(c *CustomContext) error {
	var reqBody CreateViewReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	def := ddl.CreateAggregateView{
		Name:        reqBody.Name,
		Source:      reqBody.Source,
		GroupBy:     reqBody.GroupBy,
		IfNotExists: reqBody.IfNotExists,
	}
	for _, item := range reqBody.Select {
		si, err := item.toSelectItem()
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		def.Select = append(def.Select, si)
	}

	if err := s.DDL.CreateAggregateView(c.Request().Context(), def); err != nil {
		return c.Fail(err, "error creating view")
	}
	return s.describe(c, def.Name, http.StatusCreated)
}

func (s *HTTPServer) AddRangePartition(c *CustomContext) error {
	var reqBody RangePartitionReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	name := c.Param("table")
	if err := s.DDL.AddRangePartition(c.Request().Context(), name, reqBody.Func, reqBody.At); err != nil {
		return c.Fail(err, "error adding range partition")
	}
	return s.describe(c, name, http.StatusOK)
}

func (s *HTTPServer) DescribeTable(c *CustomContext) error {
	return s.describe(c, c.Param("table"), http.StatusOK)
}

func (s *HTTPServer) describe(c *CustomContext, name string, status int) error {
	tbl, err := s.Engine.MetaStore.GetTable(c.Request().Context(), name)
	if err != nil {
		return c.Fail(err, "error getting table")
	}
	return c.JSON(status, TableResponse{
		Name:    tbl.Name,
		ID:      tbl.ID,
		Columns: tbl.Schema.Columns,
		Key:     tbl.Schema.KeyNames(),
		Options: tbl.Options,
	})
}

func (sb SelectBody) toSelectItem() (ddl.SelectItem, error) {
	var item ddl.SelectItem
	switch {
	case sb.All:
		item = ddl.AllColumns{}
	case sb.Aggregate != "":
		call := ddl.AggregateCall{Operator: sb.Aggregate}
		for _, arg := range sb.Args {
			a, err := arg.toSelectItem()
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, a)
		}
		item = call
	case sb.Column != "":
		item = ddl.ColumnItem{Name: sb.Column}
	case sb.Literal != nil:
		item = ddl.LiteralItem{Value: sb.Literal}
	default:
		return nil, fmt.Errorf("%w: empty select item", ErrBadRequest)
	}
	if sb.Alias != "" {
		item = ddl.AliasedItem{Item: item, Alias: sb.Alias}
	}
	return item, nil
}

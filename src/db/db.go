package db

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/soch-community/sochbot/src/oops"
)

/*
A general error to be used when no results are found. This is the error returned
by QueryOne, and can generally be used by other database helpers that fetch a single
result but find nothing.
*/
var NotFound = errors.New("not found")

/*
Performs a SQL query and returns a slice of all the result rows. The query is just plain SQL, but make sure to read the package documentation for details. You must explicitly provide the type argument - this is how it knows what Go type to map the results to, and it cannot be inferred.

Any SQL query may be performed, including INSERT and UPDATE - as long as it returns a result set, you can use this. If the query does not return a result set, or you simply do not care about the result set, call Exec directly on your pgx connection.

This function always returns pointers to the values. This is convenient for structs, but for other types, you may wish to use QueryScalar.
*/
func Query[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]*T, error) {
	rows, err := conn.Query(ctx, compileQuery(query, typeOf[T]()), args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, rowScanner[T]())
	if err != nil {
		return nil, oops.New(err, "error while reading db results")
	}
	return result, nil
}

/*
Identical to Query, but returns only the first result row. If there are no
rows in the result set, returns NotFound.
*/
func QueryOne[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (*T, error) {
	rows, err := conn.Query(ctx, compileQuery(query, typeOf[T]()), args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectOneRow(rows, rowScanner[T]())
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, NotFound
		}
		return nil, oops.New(err, "error while reading db result")
	}
	return result, nil
}

/*
Identical to Query, but returns concrete values instead of pointers. More convenient
for primitive types.
*/
func QueryScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) ([]T, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	result, err := pgx.CollectRows(rows, pgx.RowTo[T])
	if err != nil {
		return nil, oops.New(err, "error while reading db results")
	}
	return result, nil
}

/*
Identical to QueryScalar, but returns only the first result value. If there are
no rows in the result set, returns NotFound.
*/
func QueryOneScalar[T any](
	ctx context.Context,
	conn ConnOrTx,
	query string,
	args ...any,
) (T, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	result, err := pgx.CollectOneRow(rows, pgx.RowTo[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, NotFound
		}
		return result, oops.New(err, "error while reading db result")
	}
	return result, nil
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Structs are scanned by column name using their `db` tags. Anything else is
// treated as a single-column scalar.
func rowScanner[T any]() pgx.RowToFunc[*T] {
	if isRowStruct(typeOf[T]()) {
		return pgx.RowToAddrOfStructByName[T]
	}
	return pgx.RowToAddrOf[T]
}

var scalarStructs = []reflect.Type{
	reflect.TypeOf(time.Time{}),
}

func isRowStruct(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	for _, st := range scalarStructs {
		if t == st {
			return false
		}
	}
	return true
}

var reColumnsPlaceholder = regexp.MustCompile(`\$columns({(.*?)})?`)

func compileQuery(query string, destType reflect.Type) string {
	columnsMatch := reColumnsPlaceholder.FindStringSubmatch(query)
	if columnsMatch == nil {
		return query
	}

	// The presence of the $columns placeholder means that the destination type
	// must be a struct, and we will plonk that struct's fields into the query.
	if !isRowStruct(destType) {
		panic("$columns can only be used when querying into a struct")
	}

	columns := getColumnNames(destType, columnsMatch[2])
	return reColumnsPlaceholder.ReplaceAllLiteralString(query, strings.Join(columns, ", "))
}

func getColumnNames(destType reflect.Type, prefix string) []string {
	if destType.Kind() == reflect.Ptr {
		destType = destType.Elem()
	}
	if destType.Kind() != reflect.Struct {
		panic(fmt.Errorf("can only get column names from a struct, got type '%v'", destType))
	}

	var columns []string
	for _, field := range reflect.VisibleFields(destType) {
		columnName := field.Tag.Get("db")
		if columnName == "" || columnName == "-" || field.Anonymous {
			continue
		}
		if prefix != "" {
			columnName = prefix + "." + columnName
		}
		columns = append(columns, columnName)
	}
	return columns
}

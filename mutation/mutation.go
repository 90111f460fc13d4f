// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mutation describes row writes into a wide-column table,
// independent of the storage engine receiving them.
package mutation

const (
	// Family is the column family every cell is written to.
	Family = "info"

	ColumnName  = "name"
	ColumnEmail = "email"

	// EmailSuffix is appended to the value written to the email column.
	EmailSuffix = "@email.com"
)

// Cell is a single column value.
type Cell struct {
	Family    string
	Qualifier string
	Value     []byte
}

// Mutation is a set of cells written to one row.
type Mutation struct {
	RowKey string
	Cells  []Cell
}

// MakeWrite returns the mutation storing value under key: the value
// itself in the name column, and the value with EmailSuffix in the
// email column.
func MakeWrite(key, value string) Mutation {
	return Mutation{
		RowKey: key,
		Cells: []Cell{
			{Family: Family, Qualifier: ColumnName, Value: []byte(value)},
			{Family: Family, Qualifier: ColumnEmail, Value: []byte(value + EmailSuffix)},
		},
	}
}

// Families groups the cell values of m by family then qualifier.
// Later cells for the same column win.
func (m Mutation) Families() map[string]map[string][]byte {
	out := make(map[string]map[string][]byte)
	for _, c := range m.Cells {
		cols, ok := out[c.Family]
		if !ok {
			cols = make(map[string][]byte)
			out[c.Family] = cols
		}
		cols[c.Qualifier] = c.Value
	}
	return out
}

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

// Package ingest loads GDELT event exports into a wide-column table.
//
// Each line of the input file becomes one row write: the line is keyed
// by one of its delimited fields, and stored in the "info" column family
// as a "name" cell holding the line, and an "email" cell holding the
// line with an "@email.com" suffix.
//
// The pipeline is built and executed with the generic Beam Go SDK,
// and writes to either Cloud Bigtable or Apache HBase.
//
//	ReadFromGDELTFile -> ConvertToKV -> FilterKeys -> ToMutation -> WriteTo{Bigtable,HBase}
//	                                        \-> WriteRejected (when an output is set)
package ingest

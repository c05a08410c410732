package pipeline

// SampleDefinition is the users pipeline written by 'pipemedic demo --reset'.
const SampleDefinition = `version: "1.0"
name: users
description: Load the users export into the processed dataset.
input:
  delimiter: ","
columns:
  - name: user_id
    type: int
  - name: full_name
  - name: email
  - name: signup_date
    type: date
    format: "2006-01-02"
rename:
  user_id: id
  full_name: name
  email: email_address
  signup_date: created_at
rules:
  - column: user_id
    check: unique
  - column: full_name
    check: not_null
  - column: email
    check: not_null
  - check: expr
    expr: 'row.email.contains("@")'
output:
  kind: csv
  path: data/processed/users_processed.csv
`

// SampleData is the users export paired with SampleDefinition.
const SampleData = `user_id,full_name,email,signup_date
1,Ada Lovelace,ada@example.com,2024-01-05
2,Alan Turing,alan@example.com,2024-02-11
3,Grace Hopper,grace@example.com,2024-03-20
4,Edsger Dijkstra,edsger@example.com,2024-04-02
5,Barbara Liskov,barbara@example.com,2024-05-17
`

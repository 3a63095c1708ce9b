package main

import "github.com/clientdesk/crm/cmd"

func main() {
	cmd.Execute()
}

// Package props is the layered key-value configuration that header policy
// properties are read from.
//
// A Layered provider consults its sources in order and returns the value from
// the first source that has the key:
//
//	Runtime     process-level properties (-D key=value, admin API)
//	Descriptor  deployment descriptor file, local (viper) or S3
//	Remote      SSM parameters / Redis hash, refreshed by a Poller
//	Env         PREFIX_SNAKE_CASE_KEY environment variables
//
// Every source answers from memory so lookups never block on the network.
package props

// Command train_mnist trains the SimpleMNIST hashed perceptron and reports the run to the
// experiment logger picked with --logger_type.
//
//	train_mnist --logger_type wandb --name run1 --save_dir /tmp/out
//	train_mnist --logger_type mlflow --tracking_uri http://localhost:5000
//	train_mnist --logger_type multiple --api_key $KEY
//
// The run is seeded with a fixed seed, so two invocations with the same options train
// the same weights.
package main
